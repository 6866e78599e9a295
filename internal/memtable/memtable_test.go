package memtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fencekv/fencekv/internal/keys"
)

// ---------------------------------------------------------------------------
// Basic add/get behavior
// ---------------------------------------------------------------------------

func TestAddAndGet(t *testing.T) {
	mt := New(nil)

	mt.Add(10, keys.KindValue, []byte("apple"), []byte("red"))
	mt.Add(11, keys.KindValue, []byte("banana"), []byte("yellow"))

	value, found, deleted := mt.Get([]byte("apple"), 100)
	if !found || deleted {
		t.Fatalf("Get(apple) = found=%v deleted=%v", found, deleted)
	}
	if !bytes.Equal(value, []byte("red")) {
		t.Fatalf("Get(apple) = %q, want %q", value, "red")
	}

	if _, found, _ := mt.Get([]byte("cherry"), 100); found {
		t.Fatalf("Get(cherry) found a missing key")
	}

	if mt.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", mt.Count())
	}
	if mt.Empty() {
		t.Fatalf("Empty() = true after adds")
	}
}

func TestGetNewestWins(t *testing.T) {
	mt := New(nil)

	mt.Add(10, keys.KindValue, []byte("k"), []byte("v1"))
	mt.Add(20, keys.KindValue, []byte("k"), []byte("v2"))
	mt.Add(30, keys.KindValue, []byte("k"), []byte("v3"))

	value, found, _ := mt.Get([]byte("k"), 100)
	if !found || !bytes.Equal(value, []byte("v3")) {
		t.Fatalf("Get at seq 100 = %q found=%v, want v3", value, found)
	}
}

func TestGetDeletion(t *testing.T) {
	mt := New(nil)

	mt.Add(10, keys.KindValue, []byte("k"), []byte("v"))
	mt.Add(20, keys.KindDelete, []byte("k"), nil)

	_, found, deleted := mt.Get([]byte("k"), 100)
	if !found || !deleted {
		t.Fatalf("deleted key: found=%v deleted=%v, want both true", found, deleted)
	}
}

// ---------------------------------------------------------------------------
// Snapshot visibility: Get at a sequence number sees only records at
// or below it.
// ---------------------------------------------------------------------------

func TestGetSnapshotVisibility(t *testing.T) {
	mt := New(nil)

	mt.Add(10, keys.KindValue, []byte("k"), []byte("old"))
	mt.Add(20, keys.KindDelete, []byte("k"), nil)
	mt.Add(30, keys.KindValue, []byte("k"), []byte("new"))

	tests := []struct {
		seq     keys.SequenceNumber
		value   string
		found   bool
		deleted bool
	}{
		{5, "", false, false},
		{10, "old", true, false},
		{15, "old", true, false},
		{20, "", true, true},
		{30, "new", true, false},
	}
	for _, tt := range tests {
		value, found, deleted := mt.Get([]byte("k"), tt.seq)
		if found != tt.found || deleted != tt.deleted || string(value) != tt.value {
			t.Errorf("Get at seq %d = (%q, %v, %v), want (%q, %v, %v)",
				tt.seq, value, found, deleted, tt.value, tt.found, tt.deleted)
		}
	}
}

func TestEmptyKeyAndValue(t *testing.T) {
	mt := New(nil)

	mt.Add(1, keys.KindValue, []byte{}, []byte{})

	value, found, deleted := mt.Get([]byte{}, 10)
	if !found || deleted {
		t.Fatalf("empty key: found=%v deleted=%v", found, deleted)
	}
	if len(value) != 0 {
		t.Fatalf("empty value came back as %q", value)
	}
}

// ---------------------------------------------------------------------------
// Iteration order
// ---------------------------------------------------------------------------

func TestIteratorOrder(t *testing.T) {
	mt := New(nil)

	// Insert out of order.
	mt.Add(3, keys.KindValue, []byte("c"), []byte("3"))
	mt.Add(1, keys.KindValue, []byte("a"), []byte("1"))
	mt.Add(2, keys.KindValue, []byte("b"), []byte("2"))

	it := mt.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key().UserKey()))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("iterated %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterated %v, want %v", got, want)
		}
	}
}

func TestIteratorSameUserKeyNewestFirst(t *testing.T) {
	mt := New(nil)

	mt.Add(1, keys.KindValue, []byte("k"), []byte("v1"))
	mt.Add(2, keys.KindValue, []byte("k"), []byte("v2"))

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() || it.Key().Sequence() != 2 {
		t.Fatalf("first record seq = %d, want 2", it.Key().Sequence())
	}
	it.Next()
	if !it.Valid() || it.Key().Sequence() != 1 {
		t.Fatalf("second record seq = %d, want 1", it.Key().Sequence())
	}
}

func TestIteratorSeekAndPrev(t *testing.T) {
	mt := New(nil)
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		mt.Add(keys.SequenceNumber(i+1), keys.KindValue, key, []byte("v"))
	}

	it := mt.NewIterator()
	it.Seek(keys.MakeInternalKey([]byte("key-05"), keys.MaxSequenceNumber, keys.KindFence))
	if !it.Valid() || string(it.Key().UserKey()) != "key-05" {
		t.Fatalf("Seek(key-05) landed on %q", it.Key().UserKey())
	}

	it.Prev()
	if !it.Valid() || string(it.Key().UserKey()) != "key-04" {
		t.Fatalf("Prev() landed on %q", it.Key().UserKey())
	}

	it.SeekToLast()
	if !it.Valid() || string(it.Key().UserKey()) != "key-09" {
		t.Fatalf("SeekToLast() landed on %q", it.Key().UserKey())
	}
}

func TestIteratorEmpty(t *testing.T) {
	mt := New(nil)
	it := mt.NewIterator()
	it.SeekToFirst()
	if it.Valid() {
		t.Fatalf("iterator valid on empty memtable")
	}
	it.SeekToLast()
	if it.Valid() {
		t.Fatalf("SeekToLast valid on empty memtable")
	}
}

// ---------------------------------------------------------------------------
// Bookkeeping
// ---------------------------------------------------------------------------

func TestApproximateMemoryUsage(t *testing.T) {
	mt := New(nil)
	if mt.ApproximateMemoryUsage() != 0 {
		t.Fatalf("fresh memtable reports %d bytes", mt.ApproximateMemoryUsage())
	}
	mt.Add(1, keys.KindValue, []byte("key"), []byte("value"))
	if mt.ApproximateMemoryUsage() <= 0 {
		t.Fatalf("memory usage did not grow after Add")
	}
}

func TestRefCounting(t *testing.T) {
	mt := New(nil)
	mt.Ref()
	if mt.Unref() {
		t.Fatalf("Unref returned true with a reference outstanding")
	}
	if !mt.Unref() {
		t.Fatalf("final Unref returned false")
	}
}

// ---------------------------------------------------------------------------
// Many keys through the skiplist promotion path
// ---------------------------------------------------------------------------

func TestManyKeys(t *testing.T) {
	mt := New(nil)
	const n = 1000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		value := []byte(fmt.Sprintf("value-%06d", i))
		mt.Add(keys.SequenceNumber(i+1), keys.KindValue, key, value)
	}
	if mt.Count() != n {
		t.Fatalf("Count() = %d, want %d", mt.Count(), n)
	}
	for i := 0; i < n; i += 97 {
		key := []byte(fmt.Sprintf("key-%06d", i))
		value, found, deleted := mt.Get(key, keys.MaxSequenceNumber)
		if !found || deleted {
			t.Fatalf("Get(%s): found=%v deleted=%v", key, found, deleted)
		}
		want := fmt.Sprintf("value-%06d", i)
		if string(value) != want {
			t.Fatalf("Get(%s) = %q, want %q", key, value, want)
		}
	}
}
