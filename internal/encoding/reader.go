package encoding

// Reader is a sequential decoder over a byte slice. Each Get method
// consumes the field it reads; a false return means the input was
// exhausted or malformed, leaving the position unchanged.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining reports the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Empty reports whether all input has been consumed.
func (r *Reader) Empty() bool {
	return r.pos >= len(r.data)
}

// GetVarint32 reads a varint32.
func (r *Reader) GetVarint32() (uint32, bool) {
	v, n, err := DecodeVarint32(r.data[r.pos:])
	if err != nil {
		return 0, false
	}
	r.pos += n
	return v, true
}

// GetVarint64 reads a varint64.
func (r *Reader) GetVarint64() (uint64, bool) {
	v, n, err := DecodeVarint64(r.data[r.pos:])
	if err != nil {
		return 0, false
	}
	r.pos += n
	return v, true
}

// GetLengthPrefixedSlice reads a length-prefixed slice. The returned
// slice aliases the underlying input.
func (r *Reader) GetLengthPrefixedSlice() ([]byte, bool) {
	v, n, err := DecodeLengthPrefixedSlice(r.data[r.pos:])
	if err != nil {
		return nil, false
	}
	r.pos += n
	return v, true
}
