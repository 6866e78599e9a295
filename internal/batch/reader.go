package batch

import "github.com/fencekv/fencekv/internal/keys"

// Record is one decoded batch entry. Kind selects which fields are
// meaningful: Value fills Key and Value, Delete fills Key, Fence fills
// Key and Level.
type Record struct {
	Kind  keys.Kind
	Key   []byte
	Value []byte
	Level int
}

// Reader yields a batch's records one at a time, in insertion order.
// After Next returns false, Err reports whether the scan stopped at the
// end of the batch or on corruption. The yielded Key and Value slices
// alias the batch buffer and are valid until the batch is mutated.
type Reader struct {
	data    []byte
	want    uint32
	visited uint32
	err     error
}

// NewReader returns a Reader positioned at the batch's first record.
func NewReader(wb *WriteBatch) *Reader {
	if len(wb.data) < HeaderSize {
		return &Reader{err: ErrTooSmall}
	}
	return &Reader{data: wb.data[HeaderSize:], want: wb.Count()}
}

// Next advances to the next record. It returns false at the end of the
// batch or on corruption; check Err to tell the two apart.
func (r *Reader) Next() (Record, bool) {
	if r.err != nil || len(r.data) == 0 {
		if r.err == nil && r.visited != r.want {
			r.err = ErrCountMismatch
		}
		return Record{}, false
	}

	kind := keys.Kind(r.data[0])
	r.data = r.data[1:]
	r.visited++

	rec := Record{Kind: kind}
	switch kind {
	case keys.KindValue:
		if rec.Key, r.data, r.err = decodeLengthPrefixed(r.data); r.err != nil {
			return Record{}, false
		}
		if rec.Value, r.data, r.err = decodeLengthPrefixed(r.data); r.err != nil {
			return Record{}, false
		}

	case keys.KindDelete:
		if rec.Key, r.data, r.err = decodeLengthPrefixed(r.data); r.err != nil {
			return Record{}, false
		}

	case keys.KindFence:
		if rec.Key, r.data, r.err = decodeLengthPrefixed(r.data); r.err != nil {
			return Record{}, false
		}
		var level uint32
		if level, r.data, r.err = decodeVarint32(r.data); r.err != nil {
			return Record{}, false
		}
		rec.Level = int(level)

	default:
		r.err = ErrCorrupted
		return Record{}, false
	}

	return rec, true
}

// Err returns the error that stopped the scan, or nil after a clean
// pass over exactly the header's count of records.
func (r *Reader) Err() error {
	return r.err
}
