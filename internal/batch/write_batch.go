// Package batch implements the WriteBatch format for atomic writes.
//
// WriteBatch Format:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: kind tag
//	  - Value:  length-prefixed key, length-prefixed value
//	  - Delete: length-prefixed key
//	  - Fence:  length-prefixed key, varint32 level
//
// The header fields are patched in place at fixed offsets; appending a
// record never rewrites the buffer.
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/fencekv/fencekv/internal/encoding"
	"github.com/fencekv/fencekv/internal/keys"
)

// HeaderSize is the size in bytes of the WriteBatch header (8 bytes
// sequence + 4 bytes count).
const HeaderSize = 12

var (
	// ErrCorrupted indicates a malformed WriteBatch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")

	// ErrCountMismatch indicates the header count disagrees with the
	// number of records actually present.
	ErrCountMismatch = errors.New("batch: count mismatch")
)

// WriteBatch represents a collection of writes to be applied
// atomically. A batch is owned by one writer at a time; there is no
// internal locking.
type WriteBatch struct {
	data []byte // raw batch data including header
}

// New creates a new empty WriteBatch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData creates a WriteBatch wrapping existing data. The data is
// not validated here; Iterate reports corruption.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear resets the batch to the empty state, retaining the buffer.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	for i := range wb.data {
		wb.data[i] = 0
	}
}

// Data returns the raw batch data.
func (wb *WriteBatch) Data() []byte {
	return wb.data
}

// ApproximateSize returns the total buffer length in bytes, header
// included.
func (wb *WriteBatch) ApproximateSize() int {
	return len(wb.data)
}

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

// SetCount sets the count header field.
func (wb *WriteBatch) SetCount(count uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], count)
}

// Sequence returns the sequence number of the batch.
func (wb *WriteBatch) Sequence() keys.SequenceNumber {
	return keys.SequenceNumber(binary.LittleEndian.Uint64(wb.data[0:8]))
}

// SetSequence sets the sequence number of the batch.
func (wb *WriteBatch) SetSequence(seq keys.SequenceNumber) {
	binary.LittleEndian.PutUint64(wb.data[0:8], uint64(seq))
}

// Put adds a key-value record to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, byte(keys.KindValue))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.SetCount(wb.Count() + 1)
}

// Delete adds a deletion record to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, byte(keys.KindDelete))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.SetCount(wb.Count() + 1)
}

// PutFence adds a fence-promotion record for key at the given level.
func (wb *WriteBatch) PutFence(key []byte, level int) {
	wb.data = append(wb.data, byte(keys.KindFence))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendVarint32(wb.data, uint32(level))
	wb.SetCount(wb.Count() + 1)
}

// Append appends the records of src to wb, summing the counts. The
// sequence number of wb is unchanged and src's is ignored.
func (wb *WriteBatch) Append(src *WriteBatch) {
	if src.Count() == 0 {
		return
	}
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.SetCount(wb.Count() + src.Count())
}

// Handler receives the decoded records of a batch during Iterate.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Fence(key []byte, level int) error
}

// Iterate replays the batch's records through the handler in insertion
// order. A truncated record, an unrecognized kind byte, or a header
// count that disagrees with the records actually present fails the
// whole iteration; no partial-replay recovery is attempted.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]
	var found uint32

	for len(data) > 0 {
		kind := keys.Kind(data[0])
		data = data[1:]
		found++

		var key, value []byte
		var err error

		switch kind {
		case keys.KindValue:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			value, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Put(key, value); err != nil {
				return err
			}

		case keys.KindDelete:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Delete(key); err != nil {
				return err
			}

		case keys.KindFence:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			var level uint32
			level, data, err = decodeVarint32(data)
			if err != nil {
				return err
			}
			if err := handler.Fence(key, int(level)); err != nil {
				return err
			}

		default:
			return ErrCorrupted
		}
	}

	if found != wb.Count() {
		return ErrCountMismatch
	}
	return nil
}

func decodeVarint32(data []byte) (uint32, []byte, error) {
	v, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return 0, nil, ErrCorrupted
	}
	return v, data[n:], nil
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	value, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	return value, data[n:], nil
}
