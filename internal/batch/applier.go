package batch

import (
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/logging"
)

// MemTable is the surface the applier writes into.
type MemTable interface {
	Add(seq keys.SequenceNumber, kind keys.Kind, key, value []byte)
}

// Applier replays a decoded batch into a memtable, assigning each
// record the next sequence number starting from the batch's own.
//
// Fence records are acknowledged but not applied: fence placement
// reaches the live version through the manifest, not through the
// memtable.
type Applier struct {
	sequence keys.SequenceNumber
	mem      MemTable
	logger   logging.Logger
}

// NewApplier returns an applier that writes into mem starting at seq.
func NewApplier(mem MemTable, seq keys.SequenceNumber, logger logging.Logger) *Applier {
	return &Applier{
		sequence: seq,
		mem:      mem,
		logger:   logging.OrDefault(logger),
	}
}

// Sequence returns the next sequence number the applier will assign.
func (a *Applier) Sequence() keys.SequenceNumber {
	return a.sequence
}

// Put inserts a value record into the memtable.
func (a *Applier) Put(key, value []byte) error {
	a.mem.Add(a.sequence, keys.KindValue, key, value)
	a.sequence++
	return nil
}

// Delete inserts a deletion record into the memtable.
func (a *Applier) Delete(key []byte) error {
	a.mem.Add(a.sequence, keys.KindDelete, key, nil)
	a.sequence++
	return nil
}

// Fence consumes a fence-promotion record without touching the
// memtable.
func (a *Applier) Fence(key []byte, level int) error {
	a.logger.Debugf(logging.NSFence+"skipping fence record for level %d during memtable apply", level)
	a.sequence++
	return nil
}

// Apply replays wb into mem, consuming one sequence number per record
// beginning at wb's own sequence. It returns the corruption error from
// Iterate unchanged, with no partial-replay rollback; callers discard
// the memtable contents on failure.
func Apply(wb *WriteBatch, mem MemTable, logger logging.Logger) error {
	return wb.Iterate(NewApplier(mem, wb.Sequence(), logger))
}
