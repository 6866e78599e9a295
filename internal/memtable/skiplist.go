// Package memtable holds recent writes in a sorted in-memory structure
// until they are persisted. Reads are lock-free; writes are serialized
// by the MemTable.
package memtable

import (
	"math/rand"
	"sync/atomic"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

// comparator orders raw skiplist entries.
type comparator func(a, b []byte) int

// skipNode is a node in the skip list. Nodes are never removed.
type skipNode struct {
	entry []byte
	next  []atomic.Pointer[skipNode]
}

func newSkipNode(entry []byte, height int) *skipNode {
	return &skipNode{
		entry: entry,
		next:  make([]atomic.Pointer[skipNode], height),
	}
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

// skipList is lock-free for reads. Insert requires external
// synchronization.
type skipList struct {
	head    *skipNode
	height  int32
	compare comparator
	rng     *rand.Rand
	count   int64
}

func newSkipList(cmp comparator) *skipList {
	return &skipList{
		head:    newSkipNode(nil, maxHeight),
		height:  1,
		compare: cmp,
		rng:     rand.New(rand.NewSource(0xDEADBEEF)),
	}
}

// insert adds an entry. Nothing equal to entry may already be present.
func (sl *skipList) insert(entry []byte) {
	prev := make([]*skipNode, maxHeight)
	x := sl.findGreaterOrEqual(entry, prev)

	if x != nil && sl.compare(entry, x.entry) == 0 {
		return
	}

	height := sl.randomHeight()
	curHeight := int(atomic.LoadInt32(&sl.height))
	if height > curHeight {
		for i := curHeight; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.height, int32(height))
	}

	node := newSkipNode(entry, height)
	for i := 0; i < height; i++ {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}

	atomic.AddInt64(&sl.count, 1)
}

func (sl *skipList) len() int64 {
	return atomic.LoadInt64(&sl.count)
}

// findGreaterOrEqual returns the first node with entry >= target. When
// prev is non-nil it is filled with the predecessor at every level.
func (sl *skipList) findGreaterOrEqual(target []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.height)) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(target, next.entry) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with entry < target, or nil.
func (sl *skipList) findLessThan(target []byte) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.height)) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(next.entry, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *skipList) findLast() *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.height)) - 1
	for {
		next := x.getNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < maxHeight && sl.rng.Intn(branchingFactor) == 0 {
		height++
	}
	return height
}

// skipIterator walks the list in entry order.
type skipIterator struct {
	list *skipList
	node *skipNode
}

func (sl *skipList) iterator() *skipIterator {
	return &skipIterator{list: sl}
}

func (it *skipIterator) valid() bool { return it.node != nil }

func (it *skipIterator) entry() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.entry
}

func (it *skipIterator) next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

func (it *skipIterator) prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.entry)
	}
}

func (it *skipIterator) seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

func (it *skipIterator) seekToFirst() {
	it.node = it.list.head.getNext(0)
}

func (it *skipIterator) seekToLast() {
	it.node = it.list.findLast()
}
