package media

import (
	"iter"
	"strings"
)

// Tags is an insertion-ordered string mapping with unique, lowercase keys.
type Tags struct {
	keys []string
	vals map[string]string
}

// NormalizeKey lowercases and trims a tag key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Add appends value under key. A repeated key keeps its original position
// and joins the values with "; ".
func (t *Tags) Add(key, value string) {
	key = NormalizeKey(key)
	value = strings.TrimRight(value, "\x00")
	if key == "" {
		return
	}
	if old, ok := t.vals[key]; ok {
		if old == value || value == "" {
			return
		}
		if old != "" {
			value = old + "; " + value
		}
		t.vals[key] = value
		return
	}
	t.insert(key, value)
}

// Set stores value under key, replacing any earlier value in place.
func (t *Tags) Set(key, value string) {
	key = NormalizeKey(key)
	if key == "" {
		return
	}
	if _, ok := t.vals[key]; ok {
		t.vals[key] = value
		return
	}
	t.insert(key, value)
}

func (t *Tags) insert(key, value string) {
	if t.vals == nil {
		t.vals = make(map[string]string)
	}
	t.keys = append(t.keys, key)
	t.vals[key] = value
}

// Merge sets every entry of o on t, in o's order.
func (t *Tags) Merge(o Tags) {
	for _, k := range o.keys {
		t.Set(k, o.vals[k])
	}
}

// Get returns the value for key.
func (t Tags) Get(key string) (string, bool) {
	v, ok := t.vals[NormalizeKey(key)]
	return v, ok
}

// Len returns the number of entries.
func (t Tags) Len() int { return len(t.keys) }

// Keys returns the keys in insertion order.
func (t Tags) Keys() []string {
	return append([]string(nil), t.keys...)
}

// All iterates the entries in insertion order.
func (t Tags) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, k := range t.keys {
			if !yield(k, t.vals[k]) {
				return
			}
		}
	}
}

// Map returns an unordered copy.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t.keys))
	for k, v := range t.vals {
		m[k] = v
	}
	return m
}

// Clone returns a deep copy.
func (t Tags) Clone() Tags {
	c := Tags{keys: append([]string(nil), t.keys...)}
	if t.vals != nil {
		c.vals = t.Map()
	}
	return c
}

// Equal reports whether both mappings hold the same entries in the same order.
func (t Tags) Equal(o Tags) bool {
	if len(t.keys) != len(o.keys) {
		return false
	}
	for i, k := range t.keys {
		if o.keys[i] != k || o.vals[k] != t.vals[k] {
			return false
		}
	}
	return true
}
