// Package keys implements the internal key format used throughout the
// engine: a user key followed by an 8-byte trailer packing a 56-bit
// sequence number with an 8-bit record kind.
//
// The trailer layout is (sequence << 8) | kind, stored little-endian.
// Ordering is by user key ascending, then trailer descending, so that
// newer entries for the same user key sort first.
package keys

import (
	"errors"
	"fmt"

	"github.com/fencekv/fencekv/internal/encoding"
)

// SequenceNumber is a 56-bit write sequence number.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// TrailerSize is the size of the internal key trailer.
const TrailerSize = 8

// Kind identifies the operation a record represents. These values are
// embedded in the write-batch and memtable formats and must not change.
type Kind uint8

const (
	// KindDelete marks a key removal.
	KindDelete Kind = 0x00

	// KindValue marks a key/value insertion.
	KindValue Kind = 0x01

	// KindFence marks a fence (partition boundary) promotion record.
	KindFence Kind = 0x02

	kindMax Kind = 0x03
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindDelete:
		return "delete"
	case KindValue:
		return "value"
	case KindFence:
		return "fence"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k < kindMax
}

var (
	// ErrKeyTooShort is returned when an encoded internal key is shorter
	// than the trailer.
	ErrKeyTooShort = errors.New("keys: internal key too short")

	// ErrInvalidKind is returned when the trailer carries an unknown kind.
	ErrInvalidKind = errors.New("keys: invalid record kind")
)

// PackSequenceAndKind packs a sequence number and kind into the trailer value.
func PackSequenceAndKind(seq SequenceNumber, kind Kind) uint64 {
	return uint64(seq)<<8 | uint64(kind)
}

// UnpackSequenceAndKind splits a trailer value into sequence number and kind.
func UnpackSequenceAndKind(packed uint64) (SequenceNumber, Kind) {
	return SequenceNumber(packed >> 8), Kind(packed & 0xff)
}

// InternalKey is an encoded internal key: user key bytes followed by the
// 8-byte trailer. A nil/empty InternalKey is the zero value and encodes
// to an empty byte string.
type InternalKey []byte

// MakeInternalKey builds an internal key from its parts.
func MakeInternalKey(userKey []byte, seq SequenceNumber, kind Kind) InternalKey {
	dst := make([]byte, 0, len(userKey)+TrailerSize)
	dst = append(dst, userKey...)
	return encoding.AppendFixed64(dst, PackSequenceAndKind(seq, kind))
}

// Encode returns the serialized form of the key.
func (k InternalKey) Encode() []byte {
	return k
}

// DecodeFrom replaces k with a copy of the encoded key in src. It returns
// false if src is too short to carry a trailer.
func (k *InternalKey) DecodeFrom(src []byte) bool {
	if len(src) < TrailerSize {
		return false
	}
	*k = append(InternalKey(nil), src...)
	return true
}

// UserKey returns the user key portion.
func (k InternalKey) UserKey() []byte {
	if len(k) < TrailerSize {
		return nil
	}
	return k[:len(k)-TrailerSize]
}

// Sequence returns the sequence number from the trailer.
func (k InternalKey) Sequence() SequenceNumber {
	if len(k) < TrailerSize {
		return 0
	}
	seq, _ := UnpackSequenceAndKind(encoding.DecodeFixed64(k[len(k)-TrailerSize:]))
	return seq
}

// Kind returns the record kind from the trailer.
func (k InternalKey) Kind() Kind {
	if len(k) < TrailerSize {
		return kindMax
	}
	_, kind := UnpackSequenceAndKind(encoding.DecodeFixed64(k[len(k)-TrailerSize:]))
	return kind
}

// Valid reports whether the key carries a trailer with a known kind.
func (k InternalKey) Valid() bool {
	return len(k) >= TrailerSize && k.Kind().Valid()
}

// String formats the key for diagnostics as 'userKey' @ seq : kind.
func (k InternalKey) String() string {
	if len(k) < TrailerSize {
		return fmt.Sprintf("(short key %q)", []byte(k))
	}
	return fmt.Sprintf("'%s' @ %d : %s", k.UserKey(), k.Sequence(), k.Kind())
}
