// writer.go implements log file writing.
//
// Writer is a general purpose log stream writer. It provides an
// append-only abstraction for writing data, fragmenting records across
// block boundaries.
package wal

import (
	"io"

	"github.com/fencekv/fencekv/internal/checksum"
	"github.com/fencekv/fencekv/internal/compression"
	"github.com/fencekv/fencekv/internal/encoding"
)

// Writer writes records to a log file.
//
// Large records are fragmented across block boundaries; each physical
// record carries its own checksum, length, and type. When a codec other
// than None is configured, a compression record is emitted before the
// first data record and every payload is compressed before
// fragmentation.
type Writer struct {
	dest        io.Writer
	blockOffset int // current offset within the current block
	logNumber   uint64
	codec       compression.Type
	codecSent   bool

	// Pre-computed CRC32C values for each record type.
	typeCRC [MaxRecordType + 1]uint32

	// Reusable header buffer.
	headerBuf [HeaderSize]byte
}

// NewWriter creates a new log writer that writes to dest. Records are
// compressed with codec; pass compression.None for raw payloads.
func NewWriter(dest io.Writer, logNumber uint64, codec compression.Type) *Writer {
	w := &Writer{
		dest:      dest,
		logNumber: logNumber,
		codec:     codec,
		codecSent: codec == compression.None,
	}
	for i := 0; i <= int(MaxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes a complete logical record to the log. The record may
// be split into multiple physical records if it does not fit in the
// current block.
//
// Returns the number of bytes written (including headers) and any
// error.
func (w *Writer) AddRecord(data []byte) (int, error) {
	totalWritten := 0

	if !w.codecSent {
		n, err := w.emitPhysicalRecord(SetCompressionType, []byte{byte(w.codec)})
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}
		w.codecSent = true
	}

	if w.codec != compression.None {
		compressed, err := compression.Compress(w.codec, data)
		if err != nil {
			return totalWritten, err
		}
		data = compressed
	}

	ptr := data
	left := len(data)
	begin := true

	// Fragment the record if necessary. Even an empty record emits a
	// single zero-length fragment.
	for {
		leftover := BlockSize - w.blockOffset

		// If there's not enough space for a header, pad and move to
		// the next block.
		if leftover < HeaderSize {
			if leftover > 0 {
				padding := make([]byte, leftover)
				n, err := w.dest.Write(padding)
				if err != nil {
					return totalWritten + n, err
				}
				totalWritten += n
			}
			w.blockOffset = 0
		}

		// Invariant: we never leave < HeaderSize bytes in a block.
		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		n, err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false

		if left == 0 {
			break
		}
	}

	return totalWritten, nil
}

// emitPhysicalRecord writes a single physical record.
func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		// Pre-condition violation: payload exceeds maximum record size.
		panic("wal: record payload too large")
	}

	w.headerBuf[4] = byte(n & 0xFF)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := w.typeCRC[t]
	crc = checksum.Extend(crc, payload)
	crc = checksum.Mask(crc)
	encoding.EncodeFixed32(w.headerBuf[:], crc)

	totalWritten := 0
	written, err := w.dest.Write(w.headerBuf[:])
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	written, err = w.dest.Write(payload)
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	w.blockOffset += HeaderSize + n
	return totalWritten, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}

// LogNumber returns the log file number.
func (w *Writer) LogNumber() uint64 {
	return w.logNumber
}

// Sync flushes the underlying writer if it supports it.
func (w *Writer) Sync() error {
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}
