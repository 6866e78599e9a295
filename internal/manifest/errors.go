package manifest

import "errors"

// ErrCorruption is the sentinel matched by every decode failure. Use
// errors.Is(err, ErrCorruption) to classify; errors.As with
// *CorruptionError recovers the failing field.
var ErrCorruption = errors.New("manifest: corruption")

// CorruptionError reports a malformed version-edit record, naming the
// field that failed to decode.
type CorruptionError struct {
	Field string
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return "manifest: corrupted version edit: " + e.Field
}

// Is matches ErrCorruption so callers can classify without unpacking.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}

func corruptf(field string) error {
	return &CorruptionError{Field: field}
}
