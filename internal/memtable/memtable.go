package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/fencekv/fencekv/internal/encoding"
	"github.com/fencekv/fencekv/internal/keys"
)

// MemTable buffers writes in sequence order until a flush. It is the
// sink a replayed write batch is applied into.
//
// Entries are stored in the skip list as:
//
//	internal_key_size : varint32
//	internal_key      : user key + 8-byte trailer (seq << 8 | kind)
//	value_size        : varint32
//	value             : value_size bytes
//
// Entries with the same user key are ordered newest first, so a lookup
// lands on the most recent visible record.
type MemTable struct {
	mu       sync.Mutex
	skiplist *skipList
	cmp      *keys.InternalKeyComparator

	memoryUsage int64
	refs        int32
}

// New creates an empty memtable ordered by cmp.
func New(cmp *keys.InternalKeyComparator) *MemTable {
	if cmp == nil {
		cmp = keys.DefaultComparator
	}
	mt := &MemTable{cmp: cmp, refs: 1}
	mt.skiplist = newSkipList(func(a, b []byte) int {
		return compareEntries(a, b, cmp)
	})
	return mt
}

// compareEntries orders two skiplist entries by their embedded internal
// keys: user key ascending, then sequence number descending.
func compareEntries(a, b []byte, cmp *keys.InternalKeyComparator) int {
	ak, okA := extractInternalKey(a)
	bk, okB := extractInternalKey(b)
	if !okA || !okB {
		return keys.BytewiseCompare(a, b)
	}
	return cmp.Compare(ak, bk)
}

func extractInternalKey(entry []byte) (keys.InternalKey, bool) {
	key, _, err := encoding.DecodeLengthPrefixedSlice(entry)
	if err != nil || len(key) < keys.TrailerSize {
		return nil, false
	}
	return keys.InternalKey(key), true
}

// Ref increments the reference count.
func (mt *MemTable) Ref() {
	atomic.AddInt32(&mt.refs, 1)
}

// Unref decrements the reference count and reports whether it dropped
// to zero.
func (mt *MemTable) Unref() bool {
	return atomic.AddInt32(&mt.refs, -1) == 0
}

// Add inserts a record. The (seq, kind) pair makes the internal key
// unique, so duplicate user keys from different batches coexist.
func (mt *MemTable) Add(seq keys.SequenceNumber, kind keys.Kind, key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	internalKeyLen := len(key) + keys.TrailerSize
	entry := make([]byte, 0, internalKeyLen+len(value)+10)
	entry = encoding.AppendVarint32(entry, uint32(internalKeyLen))
	entry = append(entry, key...)
	entry = encoding.AppendFixed64(entry, keys.PackSequenceAndKind(seq, kind))
	entry = encoding.AppendVarint32(entry, uint32(len(value)))
	entry = append(entry, value...)

	mt.skiplist.insert(entry)

	atomic.AddInt64(&mt.memoryUsage, int64(len(entry))+nodeOverhead)
}

// nodeOverhead approximates per-entry skiplist bookkeeping.
const nodeOverhead = 64

// Get returns the value for key visible at seq. deleted reports that
// the newest visible record is a tombstone.
func (mt *MemTable) Get(key []byte, seq keys.SequenceNumber) (value []byte, found bool, deleted bool) {
	// Seek to the newest visible entry for this user key. The trailer
	// sorts descending, so seeking with the highest kind at seq lands
	// on or before every record with sequence <= seq.
	lookup := keys.MakeInternalKey(key, seq, keys.KindFence)

	it := mt.skiplist.iterator()
	it.seek(buildLookupEntry(lookup))

	for it.valid() {
		entryKey, entryValue, ok := parseEntry(it.entry())
		if !ok {
			return nil, false, false
		}
		if mt.cmp.UserCompare(key, entryKey.UserKey()) != 0 {
			return nil, false, false
		}
		if entryKey.Sequence() > seq {
			it.next()
			continue
		}
		switch entryKey.Kind() {
		case keys.KindValue:
			return entryValue, true, false
		case keys.KindDelete:
			return nil, true, true
		default:
			// Fence records carry no user data.
			it.next()
		}
	}
	return nil, false, false
}

func buildLookupEntry(ik keys.InternalKey) []byte {
	entry := make([]byte, 0, len(ik)+5)
	entry = encoding.AppendVarint32(entry, uint32(len(ik)))
	return append(entry, ik...)
}

func parseEntry(entry []byte) (key keys.InternalKey, value []byte, ok bool) {
	rawKey, n, err := encoding.DecodeLengthPrefixedSlice(entry)
	if err != nil || len(rawKey) < keys.TrailerSize {
		return nil, nil, false
	}
	value, _, err = encoding.DecodeLengthPrefixedSlice(entry[n:])
	if err != nil {
		return nil, nil, false
	}
	return keys.InternalKey(rawKey), value, true
}

// ApproximateMemoryUsage returns the approximate size in bytes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// Count returns the number of records.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.len()
}

// Empty reports whether the memtable holds no records.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// Iterator walks records in internal key order.
type Iterator struct {
	iter *skipIterator

	key   keys.InternalKey
	value []byte
	valid bool
}

// NewIterator returns an iterator over the memtable. It must be
// positioned with a seek call before use.
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{iter: mt.skiplist.iterator()}
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool { return it.valid }

// SeekToFirst positions at the first record.
func (it *Iterator) SeekToFirst() {
	it.iter.seekToFirst()
	it.parse()
}

// SeekToLast positions at the last record.
func (it *Iterator) SeekToLast() {
	it.iter.seekToLast()
	it.parse()
}

// Seek positions at the first record with internal key >= target.
func (it *Iterator) Seek(target keys.InternalKey) {
	it.iter.seek(buildLookupEntry(target))
	it.parse()
}

// Next advances to the next record.
func (it *Iterator) Next() {
	it.iter.next()
	it.parse()
}

// Prev moves to the previous record.
func (it *Iterator) Prev() {
	it.iter.prev()
	it.parse()
}

// Key returns the internal key at the current position.
func (it *Iterator) Key() keys.InternalKey { return it.key }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) parse() {
	if !it.iter.valid() {
		it.valid = false
		it.key = nil
		it.value = nil
		return
	}
	it.key, it.value, it.valid = parseEntry(it.iter.entry())
}
