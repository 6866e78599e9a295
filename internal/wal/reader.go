// reader.go implements log file reading.
//
// Reader is a general purpose log stream reader. It reads records from
// a log file, handling fragmented records that span block boundaries.
package wal

import (
	"errors"
	"io"

	"github.com/fencekv/fencekv/internal/checksum"
	"github.com/fencekv/fencekv/internal/compression"
	"github.com/fencekv/fencekv/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a record with an invalid checksum.
	ErrCorruptedRecord = errors.New("wal: corrupted record (bad checksum)")

	// ErrShortRecord indicates a record that is shorter than expected.
	ErrShortRecord = errors.New("wal: short record")

	// ErrInvalidRecordType indicates an unrecognized record type.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedEOF indicates an unexpected end of file.
	ErrUnexpectedEOF = errors.New("wal: unexpected end of file")

	// ErrUnexpectedMiddleRecord indicates a middle record without a
	// first record.
	ErrUnexpectedMiddleRecord = errors.New("wal: unexpected middle record")

	// ErrUnexpectedLastRecord indicates a last record without a first
	// record.
	ErrUnexpectedLastRecord = errors.New("wal: unexpected last record")

	// ErrUnexpectedFirstRecord indicates a first record while already
	// in a fragmented record.
	ErrUnexpectedFirstRecord = errors.New("wal: unexpected first record")

	// ErrBadCompressionRecord indicates a malformed compression record.
	ErrBadCompressionRecord = errors.New("wal: bad compression record")
)

// Reporter is called when corruption is detected. Reporting does not
// stop the read; the reader drops the damaged bytes and resynchronizes.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads records from a log file.
type Reader struct {
	src           io.Reader
	reporter      Reporter
	checksum      bool // whether to verify checksums
	backingStore  []byte
	buffer        []byte // current unconsumed data in backingStore
	eof           bool
	lastRecordEnd int
	blockOffset   int
	codec         compression.Type

	// Fragment assembly.
	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a new log reader. The reporter may be nil.
func NewReader(src io.Reader, reporter Reporter, verifyChecksum bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		checksum:     verifyChecksum,
		backingStore: make([]byte, BlockSize),
		codec:        compression.None,
	}
}

// ReadRecord reads the next logical record from the log.
// It returns nil and io.EOF when no more records are available.
//
// The returned slice is valid until the next call to ReadRecord.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedEOF)
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			return r.finish(fragment)

		case FirstType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedMiddleRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedLastRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return r.finish(result)

		case SetCompressionType:
			if len(fragment) != 1 || !compression.Type(fragment[0]).IsSupported() {
				r.reportCorruption(len(fragment), ErrBadCompressionRecord)
				continue
			}
			r.codec = compression.Type(fragment[0])

		case ZeroType:
			// Skip zero padding.
			continue

		default:
			if recordType&RecordTypeSafeIgnoreMask != 0 {
				continue
			}
			r.reportCorruption(len(fragment), ErrInvalidRecordType)
			continue
		}
	}
}

// finish decompresses a reassembled logical record if the log declared
// a codec.
func (r *Reader) finish(record []byte) ([]byte, error) {
	if r.codec == compression.None {
		return record, nil
	}
	out, err := compression.Decompress(r.codec, record)
	if err != nil {
		r.reportCorruption(len(record), err)
		return nil, err
	}
	return out, nil
}

// readPhysicalRecord reads a single physical record from the log.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}

			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
					// Process the partial block.
				} else {
					return 0, nil, err
				}
			}

			r.buffer = r.backingStore[:n]
			r.blockOffset = 0
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			if r.eof {
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			continue
		}

		// Zero type with zero length is block padding.
		if recordType == ZeroType && length == 0 {
			r.buffer = r.buffer[HeaderSize:]
			r.blockOffset += HeaderSize
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]

		if r.checksum {
			crc := checksum.Value([]byte{byte(recordType)})
			crc = checksum.Extend(crc, payload)
			crc = checksum.Mask(crc)
			if crc != crcStored {
				r.reportCorruption(HeaderSize+length, ErrCorruptedRecord)
				r.buffer = r.buffer[HeaderSize+length:]
				r.blockOffset += HeaderSize + length
				continue
			}
		}

		r.buffer = r.buffer[HeaderSize+length:]
		r.blockOffset += HeaderSize + length
		r.lastRecordEnd = r.blockOffset

		// Copy the payload since the block buffer is reused.
		result := make([]byte, len(payload))
		copy(result, payload)
		return recordType, result, nil
	}
}

func (r *Reader) reportCorruption(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

// IsEOF returns true if the reader has reached end of file.
func (r *Reader) IsEOF() bool {
	return r.eof
}

// LastRecordEnd returns the byte offset after the last successfully
// read record within the current block.
func (r *Reader) LastRecordEnd() int {
	return r.lastRecordEnd
}
