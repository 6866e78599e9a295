// write_batch.go is the public surface over the binary batch format.
package fencekv

import (
	"github.com/fencekv/fencekv/internal/batch"
	"github.com/fencekv/fencekv/internal/logging"
)

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied into the batch, so callers may reuse
// their buffers after Put/Delete.
//
// A batch can be reused by calling Clear.
//
//	wb := fencekv.NewWriteBatch()
//	wb.Put([]byte("key1"), []byte("value1"))
//	wb.Delete([]byte("key2"))
type WriteBatch struct {
	internal *batch.WriteBatch
}

// NewWriteBatch creates an empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{internal: batch.New()}
}

// NewWriteBatchFromData reconstructs a batch from its serialized form,
// for example a batch recovered from a log.
func NewWriteBatchFromData(data []byte) (*WriteBatch, error) {
	wb, err := batch.NewFromData(data)
	if err != nil {
		return nil, err
	}
	return &WriteBatch{internal: wb}, nil
}

// Put adds a key/value insertion to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.internal.Put(key, value)
}

// Delete adds a key removal to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.internal.Delete(key)
}

// Clear resets the batch to empty so it can be reused.
func (wb *WriteBatch) Clear() {
	wb.internal.Clear()
}

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() int {
	return int(wb.internal.Count())
}

// Append adds all records of src to the batch.
func (wb *WriteBatch) Append(src *WriteBatch) {
	wb.internal.Append(src.internal)
}

// Data returns the serialized batch, header included. The slice
// aliases the batch's buffer and is invalidated by further writes.
func (wb *WriteBatch) Data() []byte {
	return wb.internal.Data()
}

// ApproximateSize returns the serialized size in bytes.
func (wb *WriteBatch) ApproximateSize() int {
	return wb.internal.ApproximateSize()
}

// SelectFences scans the batch and returns a batch of fence-promotion
// records for the keys whose hashes qualify them as fences under opts.
// The result is deterministic: it depends only on key bytes and the
// configured hash schedule.
func (wb *WriteBatch) SelectFences(opts *Options) (*WriteBatch, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.ensureDefaults()
	out, err := batch.SelectFences(opts.engineConfig(), logging.OrDefault(opts.Logger), wb.internal)
	if err != nil {
		return nil, err
	}
	return &WriteBatch{internal: out}, nil
}
