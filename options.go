package fencekv

import (
	"github.com/fencekv/fencekv/internal/compression"
	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/logging"
	"github.com/fencekv/fencekv/internal/vfs"
)

// FenceHash selects the hash function used for fence placement. The
// choice must stay fixed for the lifetime of a database.
type FenceHash uint8

const (
	// HashMurmur3 is MurmurHash3_x86_32, the default.
	HashMurmur3 FenceHash = FenceHash(config.HashMurmur3)

	// HashXXH3 uses the low 32 bits of seeded XXH3.
	HashXXH3 FenceHash = FenceHash(config.HashXXH3)
)

// Options configures a database instance.
type Options struct {
	// Comparator orders user keys. Defaults to BytewiseComparator.
	Comparator Comparator

	// NumLevels is the number of levels in the tree. Defaults to 7.
	NumLevels int

	// FenceHashFunc selects the fence-placement hash. Defaults to
	// HashMurmur3.
	FenceHashFunc FenceHash

	// FenceHashSeed seeds the fence-placement hash. Defaults to 42.
	FenceHashSeed uint32

	// FenceTopLevelBits is the hash mask width at level 0; deeper
	// levels promote more keys. Defaults to 27.
	FenceTopLevelBits uint

	// FenceBitDecrement narrows the mask per level. Defaults to 2.
	FenceBitDecrement uint

	// ManifestCompression compresses MANIFEST log payloads. Defaults
	// to no compression.
	ManifestCompression CompressionType

	// FS is the filesystem seam. Defaults to the OS filesystem.
	FS vfs.FS

	// Logger receives structured diagnostics. Defaults to a stderr
	// logger at info level.
	Logger logging.Logger
}

// CompressionType selects a MANIFEST log codec.
type CompressionType uint8

// Supported compression types.
const (
	NoCompression     CompressionType = CompressionType(compression.None)
	SnappyCompression CompressionType = CompressionType(compression.Snappy)
	LZ4Compression    CompressionType = CompressionType(compression.LZ4)
	ZstdCompression   CompressionType = CompressionType(compression.Zstd)
)

// DefaultOptions returns the reference configuration.
func DefaultOptions() *Options {
	return &Options{
		Comparator:        BytewiseComparator{},
		NumLevels:         7,
		FenceHashFunc:     HashMurmur3,
		FenceHashSeed:     42,
		FenceTopLevelBits: 27,
		FenceBitDecrement: 2,
	}
}

// ensureDefaults fills zero-valued fields with their defaults.
func (o *Options) ensureDefaults() {
	if o.Comparator == nil {
		o.Comparator = BytewiseComparator{}
	}
	if o.NumLevels == 0 {
		o.NumLevels = 7
	}
	if o.FenceHashSeed == 0 {
		o.FenceHashSeed = 42
	}
	if o.FenceTopLevelBits == 0 {
		o.FenceTopLevelBits = 27
	}
	if o.FenceBitDecrement == 0 {
		o.FenceBitDecrement = 2
	}
	if o.FS == nil {
		o.FS = vfs.Default()
	}
	o.Logger = logging.OrDefault(o.Logger)
}

// engineConfig maps the public options onto the internal layout
// configuration.
func (o *Options) engineConfig() config.Config {
	return config.Config{
		NumLevels:         o.NumLevels,
		FenceHashFunc:     config.FenceHash(o.FenceHashFunc),
		FenceHashSeed:     o.FenceHashSeed,
		FenceTopLevelBits: o.FenceTopLevelBits,
		FenceBitDecrement: o.FenceBitDecrement,
	}
}

// internalComparator wraps the user comparator for internal key
// ordering.
func (o *Options) internalComparator() *keys.InternalKeyComparator {
	return keys.NewInternalKeyComparator(o.Comparator.Name(), o.Comparator.Compare)
}

// Validate checks the options for internal consistency.
func (o *Options) Validate() error {
	o.ensureDefaults()
	return o.engineConfig().Validate()
}
