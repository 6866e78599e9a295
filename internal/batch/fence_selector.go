package batch

import (
	"errors"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/logging"
)

// ErrUnexpectedFence is returned when fence selection encounters a
// fence record in its input. A batch scanned for fence selection must
// contain only puts and deletes; a pre-existing fence record is a
// contract violation by the caller.
var ErrUnexpectedFence = errors.New("batch: fence record in fence-selection input")

// FenceSelector scans a batch of writes and decides, per put key,
// whether that key becomes a fence boundary and at which levels. The
// decision is a pure function of the key bytes under a fixed-seed hash,
// so replaying the same data always reproduces the same fence
// placement.
//
// A key's entry level is the shallowest level whose hash test passes:
// level i requires the low LevelBits(i) bits of the hash to all be one.
// Shallow levels demand more bits and therefore promote exponentially
// fewer keys. A key promoted at level i is promoted at every deeper
// level too, keeping deeper partition schemes strict refinements of
// shallower ones.
//
// FenceSelector implements Handler; feed it to WriteBatch.Iterate and
// collect the promotion records from Output.
type FenceSelector struct {
	cfg      config.Config
	logger   logging.Logger
	sequence keys.SequenceNumber
	output   *WriteBatch
	promoted []int
}

// NewFenceSelector returns a selector whose output batch starts empty.
// The sequence number advances by one per input record, mirroring the
// sequence assignment the memtable applier will use.
func NewFenceSelector(cfg config.Config, logger logging.Logger, seq keys.SequenceNumber) *FenceSelector {
	return &FenceSelector{
		cfg:      cfg,
		logger:   logging.OrDefault(logger),
		sequence: seq,
		output:   New(),
		promoted: make([]int, cfg.NumLevels),
	}
}

// Output returns the batch of fence-promotion records accumulated so
// far.
func (fs *FenceSelector) Output() *WriteBatch {
	return fs.output
}

// PromotedByLevel returns the per-level count of promotion records
// emitted so far. The slice is owned by the selector.
func (fs *FenceSelector) PromotedByLevel() []int {
	return fs.promoted
}

func (fs *FenceSelector) hash(key []byte) uint32 {
	switch fs.cfg.FenceHashFunc {
	case config.HashXXH3:
		return uint32(xxh3.HashSeed(key, uint64(fs.cfg.FenceHashSeed)))
	default:
		return murmur3.Sum32WithSeed(key, fs.cfg.FenceHashSeed)
	}
}

// entryLevel returns the shallowest level whose hash test passes for h,
// or -1 when no level qualifies.
func (fs *FenceSelector) entryLevel(h uint32) int {
	for level := 0; level < fs.cfg.NumLevels; level++ {
		mask := uint32(1)<<fs.cfg.LevelBits(level) - 1
		if h&mask == mask {
			return level
		}
	}
	return -1
}

// Put decides the key's fence fate and appends one promotion record per
// qualifying level to the output batch.
func (fs *FenceSelector) Put(key, value []byte) error {
	h := fs.hash(key)
	if entry := fs.entryLevel(h); entry >= 0 {
		for level := entry; level < fs.cfg.NumLevels; level++ {
			fs.output.PutFence(key, level)
			fs.promoted[level]++
		}
		fs.logger.Debugf(logging.NSFence+"promoted key (hash %#x) at levels %d..%d",
			h, entry, fs.cfg.NumLevels-1)
	}
	fs.sequence++
	return nil
}

// Delete never contributes a fence; it only advances the sequence
// counter.
func (fs *FenceSelector) Delete(key []byte) error {
	fs.sequence++
	return nil
}

// Fence rejects pre-existing fence records in the input.
func (fs *FenceSelector) Fence(key []byte, level int) error {
	return ErrUnexpectedFence
}

// SelectFences scans src and returns a fresh batch holding one
// fence-promotion record for every (key, level) the hash schedule in
// cfg selects. src is not modified.
func SelectFences(cfg config.Config, logger logging.Logger, src *WriteBatch) (*WriteBatch, error) {
	fs := NewFenceSelector(cfg, logger, src.Sequence())
	if err := src.Iterate(fs); err != nil {
		return nil, err
	}
	return fs.Output(), nil
}
