// Package encoding provides the primitive binary codec shared by the
// manifest and write-batch formats: little-endian fixed-width integers,
// LEB128-style varints, and length-prefixed byte strings.
//
// All multi-byte integers are little-endian. Varints use 7 payload bits
// per byte with the MSB as a continuation flag.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Length is the maximum encoded size of a varint32.
const MaxVarint32Length = 5

// MaxVarint64Length is the maximum encoded size of a varint64.
const MaxVarint64Length = 10

var (
	// ErrBufferTooSmall is returned when the input ends before a
	// length-prefixed field is complete.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds its maximum width.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when the input ends mid-varint.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// EncodeFixed16 writes a little-endian uint16 into dst.
// REQUIRES: len(dst) >= 2.
func EncodeFixed16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// DecodeFixed16 reads a little-endian uint16 from src.
// REQUIRES: len(src) >= 2.
func DecodeFixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// EncodeFixed32 writes a little-endian uint32 into dst.
// REQUIRES: len(dst) >= 4.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 reads a little-endian uint32 from src.
// REQUIRES: len(src) >= 4.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 writes a little-endian uint64 into dst.
// REQUIRES: len(dst) >= 8.
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 reads a little-endian uint64 from src.
// REQUIRES: len(src) >= 8.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32 to dst.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// AppendVarint32 appends value to dst as a varint.
func AppendVarint32(dst []byte, value uint32) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// AppendVarint64 appends value to dst as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from the front of src, returning the
// value and the number of bytes consumed.
func DecodeVarint32(src []byte) (value uint32, bytesRead int, err error) {
	for shift := uint(0); shift < 32; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 0x80 {
			value |= uint32(b) << shift
			return value, bytesRead, nil
		}
		value |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// DecodeVarint64 decodes a varint64 from the front of src, returning the
// value and the number of bytes consumed.
func DecodeVarint64(src []byte) (value uint64, bytesRead int, err error) {
	for shift := uint(0); shift < 64; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 0x80 {
			value |= uint64(b) << shift
			return value, bytesRead, nil
		}
		value |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLength returns the encoded size of v as a varint.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendLengthPrefixedSlice appends varint32(len(value)) followed by value.
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes a length-prefixed slice from the front
// of src. The returned slice aliases src.
func DecodeLengthPrefixedSlice(src []byte) (value []byte, bytesRead int, err error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	bytesRead = n
	if bytesRead+int(length) > len(src) {
		return nil, 0, ErrBufferTooSmall
	}
	value = src[bytesRead : bytesRead+int(length)]
	bytesRead += int(length)
	return value, bytesRead, nil
}
