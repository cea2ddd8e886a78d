package cache

import (
	"strconv"
	"strings"
)

const keySep = "/"

// Key identifies one cached query: a feature name followed by its parameters,
// e.g. "posts/detail/42".
type Key string

// NewKey joins segments into a Key. Empty segments are kept so that
// ("feed", "") and ("feed") stay distinct.
func NewKey(parts ...string) Key {
	return Key(strings.Join(parts, keySep))
}

// Append returns a child key
func (k Key) Append(parts ...string) Key {
	if k == "" {
		return NewKey(parts...)
	}
	return Key(string(k) + keySep + strings.Join(parts, keySep))
}

// AppendInt returns a child key for a numeric parameter
func (k Key) AppendInt(n int) Key {
	return k.Append(strconv.Itoa(n))
}

// HasPrefix reports whether prefix names k or one of its ancestors.
// Matching is per segment, so "posts/1" is not a prefix of "posts/10".
func (k Key) HasPrefix(prefix Key) bool {
	if prefix == "" || k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+keySep)
}

// Segments splits the key into its parts
func (k Key) Segments() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), keySep)
}

// Feature returns the first segment, used as a metrics and log label
func (k Key) Feature() string {
	s, _, _ := strings.Cut(string(k), keySep)
	return s
}

func (k Key) String() string {
	return string(k)
}
