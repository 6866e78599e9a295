// Package config carries the engine layout constants that the manifest
// codec and the fence-selection algorithm share. The values are passed
// explicitly to constructors instead of living as package globals so
// alternate level counts and bit schedules can be exercised in tests.
package config

import (
	"errors"
	"fmt"
)

// FenceHash selects the hash function used for fence selection. The
// choice is fixed for the lifetime of a database: fence placement must
// be reproducible across replays of the same data.
type FenceHash uint8

const (
	// HashMurmur3 is MurmurHash3_x86_32, the default.
	HashMurmur3 FenceHash = iota

	// HashXXH3 uses the low 32 bits of seeded XXH3.
	HashXXH3
)

// String returns the name of the hash selection.
func (h FenceHash) String() string {
	switch h {
	case HashMurmur3:
		return "murmur3"
	case HashXXH3:
		return "xxh3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

var (
	// ErrInvalidLevels is returned when NumLevels is not positive.
	ErrInvalidLevels = errors.New("config: NumLevels must be positive")

	// ErrInvalidBitSchedule is returned when the fence bit schedule
	// leaves some level with a mask width outside (0, 32).
	ErrInvalidBitSchedule = errors.New("config: fence bit schedule out of range")

	// ErrInvalidHash is returned for an unrecognized hash selection.
	ErrInvalidHash = errors.New("config: unknown fence hash")
)

// Config holds the layout constants shared by the manifest codec and
// the fence selector.
type Config struct {
	// NumLevels is the number of levels in the tree. Levels in edits and
	// batch fence records are validated against this bound.
	NumLevels int

	// FenceHashFunc selects the fence-selection hash.
	FenceHashFunc FenceHash

	// FenceHashSeed seeds the fence-selection hash.
	FenceHashSeed uint32

	// FenceTopLevelBits is the number of low-order hash bits that must
	// all be set for a key to become a fence at level 0. Level 0 has the
	// lowest promotion probability.
	FenceTopLevelBits uint

	// FenceBitDecrement is subtracted from the bit width per level, so
	// each deeper level promotes roughly 4x as many keys (decrement 2).
	FenceBitDecrement uint
}

// Default returns the reference configuration: seven levels, murmur3
// seeded with 42, 27 bits at the top level, decrement 2.
func Default() Config {
	return Config{
		NumLevels:         7,
		FenceHashFunc:     HashMurmur3,
		FenceHashSeed:     42,
		FenceTopLevelBits: 27,
		FenceBitDecrement: 2,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.NumLevels <= 0 {
		return ErrInvalidLevels
	}
	if c.FenceHashFunc != HashMurmur3 && c.FenceHashFunc != HashXXH3 {
		return ErrInvalidHash
	}
	for level := 0; level < c.NumLevels; level++ {
		bits := c.LevelBits(level)
		if bits <= 0 || bits >= 32 {
			return fmt.Errorf("%w: level %d has %d bits", ErrInvalidBitSchedule, level, bits)
		}
	}
	return nil
}

// LevelBits returns the mask width for the given level. The result may
// be out of range for invalid configurations; Validate catches those.
func (c Config) LevelBits(level int) int {
	return int(c.FenceTopLevelBits) - level*int(c.FenceBitDecrement)
}

// ValidLevel reports whether level lies in [0, NumLevels).
func (c Config) ValidLevel(level int) bool {
	return level >= 0 && level < c.NumLevels
}
