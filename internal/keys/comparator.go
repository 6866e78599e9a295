package keys

import "bytes"

// UserKeyComparer orders raw user keys. Negative means a < b.
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is the default lexicographic user key ordering.
func BytewiseCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// InternalKeyComparator orders encoded internal keys: user key ascending
// via the wrapped user comparer, then trailer descending so that higher
// sequence numbers (newer entries) sort first.
type InternalKeyComparator struct {
	userCompare UserKeyComparer
	name        string
}

// NewInternalKeyComparator wraps a user key comparer. A nil comparer
// defaults to bytewise ordering.
func NewInternalKeyComparator(name string, userCompare UserKeyComparer) *InternalKeyComparator {
	if userCompare == nil {
		userCompare = BytewiseCompare
	}
	if name == "" {
		name = "fencekv.BytewiseComparator"
	}
	return &InternalKeyComparator{userCompare: userCompare, name: name}
}

// DefaultComparator orders internal keys by bytewise user key order.
var DefaultComparator = NewInternalKeyComparator("fencekv.BytewiseComparator", BytewiseCompare)

// Name returns the comparator name persisted in the manifest.
func (c *InternalKeyComparator) Name() string {
	return c.name
}

// Compare orders two encoded internal keys.
func (c *InternalKeyComparator) Compare(a, b InternalKey) int {
	userA, userB := []byte(a), []byte(b)
	if len(a) >= TrailerSize {
		userA = a.UserKey()
	}
	if len(b) >= TrailerSize {
		userB = b.UserKey()
	}
	if cmp := c.userCompare(userA, userB); cmp != 0 {
		return cmp
	}
	if len(a) < TrailerSize || len(b) < TrailerSize {
		return len(a) - len(b)
	}
	trailerA := PackSequenceAndKind(a.Sequence(), a.Kind())
	trailerB := PackSequenceAndKind(b.Sequence(), b.Kind())
	switch {
	case trailerA > trailerB:
		return -1
	case trailerA < trailerB:
		return 1
	}
	return 0
}

// CompareUserKeys orders just the user key portions.
func (c *InternalKeyComparator) CompareUserKeys(a, b InternalKey) int {
	return c.userCompare(a.UserKey(), b.UserKey())
}

// UserCompare orders raw user keys with the wrapped comparer.
func (c *InternalKeyComparator) UserCompare(a, b []byte) int {
	return c.userCompare(a, b)
}
