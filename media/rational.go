package media

import (
	"fmt"
	"math/big"
	"time"
)

// Rational is a normalized fraction. The zero value means unknown.
type Rational struct {
	Num int64
	Den int64
}

// NewRational returns num/den reduced to lowest terms with a positive
// denominator. A zero denominator yields the unknown value.
func NewRational(num, den int64) Rational {
	if den == 0 || num == 0 {
		return Rational{}
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	return Rational{Num: num / g, Den: den / g}
}

// IsZero reports whether r is unknown or zero.
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// MulInt scales r by n. Results that overflow int64 are approximated by
// halving numerator and denominator until they fit.
func (r Rational) MulInt(n int64) Rational {
	if r.IsZero() || n == 0 {
		return Rational{}
	}
	p := new(big.Rat).SetFrac64(r.Num, r.Den)
	p.Mul(p, new(big.Rat).SetInt64(n))
	num, den := new(big.Int).Set(p.Num()), new(big.Int).Set(p.Denom())
	for !num.IsInt64() || !den.IsInt64() {
		num.Rsh(num, 1)
		den.Rsh(den, 1)
		if den.Sign() == 0 {
			return Rational{}
		}
	}
	return NewRational(num.Int64(), den.Int64())
}

// Float64 returns r as a float, 0 when unknown.
func (r Rational) Float64() float64 {
	if r.IsZero() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Duration interprets r as seconds.
func (r Rational) Duration() time.Duration {
	if r.IsZero() {
		return 0
	}
	d := new(big.Int).Mul(big.NewInt(r.Num), big.NewInt(int64(time.Second)))
	d.Quo(d, big.NewInt(r.Den))
	if !d.IsInt64() {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(d.Int64())
}

func (r Rational) String() string {
	if r.IsZero() {
		return "0"
	}
	if r.Den == 1 {
		return fmt.Sprintf("%d", r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
