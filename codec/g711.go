package codec

// G.711 expansion tables, indexed by the coded byte.
var alawTable, mulawTable [256]int16

func init() {
	for i := range 256 {
		alawTable[i] = alawToLinear(byte(i))
		mulawTable[i] = mulawToLinear(byte(i))
	}
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int16(a&0x0f) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return t
	}
	return -t
}

func mulawToLinear(u byte) int16 {
	const bias = 0x84
	u = ^u
	t := (int16(u&0x0f) << 3) + bias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return bias - t
	}
	return t - bias
}
