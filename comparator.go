package fencekv

// comparator.go defines the total ordering over user keys. The default
// is bytewise comparison; custom comparators enable application
// specific key ordering. The comparator name is persisted in the
// MANIFEST and validated when a database is reopened.

import "bytes"

// Comparator defines a total ordering over user keys.
type Comparator interface {
	// Compare returns a value < 0 if a < b, 0 if a == b, > 0 if a > b.
	Compare(a, b []byte) int

	// Name identifies the ordering. Changing the ordering without
	// changing the name corrupts the database.
	Name() string
}

// BytewiseComparator compares keys lexicographically.
type BytewiseComparator struct{}

// Compare compares two keys lexicographically.
func (BytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Name returns the comparator name.
func (BytewiseComparator) Name() string {
	return "fencekv.BytewiseComparator"
}
