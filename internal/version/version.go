// Package version manages immutable snapshots of the fence tree and
// the MANIFEST log that records transitions between them.
//
// A Version holds, per level, the set of fences (each with its routed
// files) and the sentinel files that precede the first fence key. New
// versions are produced by folding VersionEdits into a Builder and are
// installed by the VersionSet, which also owns the MANIFEST writer and
// the CURRENT pointer file.
package version

import (
	"sync/atomic"

	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/manifest"
)

// Version is an immutable snapshot of the fence tree. Versions are
// reference counted; readers Ref the version they operate on and Unref
// it when done.
type Version struct {
	cfg config.Config
	cmp *keys.InternalKeyComparator

	// fences[level] is sorted ascending by fence key. Every key routed
	// to a fence compares >= its FenceKey.
	fences [][]*manifest.FenceMetaData

	// sentinels[level] holds files whose keys precede the first fence
	// key of the level, sorted by file number.
	sentinels [][]*manifest.FileMetaData

	// files is the arena of all routed file metadata, keyed by number.
	files map[manifest.FileNumber]*manifest.FileMetaData

	refs          int32
	vset          *VersionSet
	versionNumber uint64

	prev *Version
	next *Version
}

func newVersion(vset *VersionSet, cfg config.Config, cmp *keys.InternalKeyComparator, number uint64) *Version {
	return &Version{
		cfg:           cfg,
		cmp:           cmp,
		fences:        make([][]*manifest.FenceMetaData, cfg.NumLevels),
		sentinels:     make([][]*manifest.FileMetaData, cfg.NumLevels),
		files:         make(map[manifest.FileNumber]*manifest.FileMetaData),
		vset:          vset,
		versionNumber: number,
	}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count. When it reaches zero the
// version releases its fence and file references and unlinks itself
// from the version list.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) != 0 {
		return
	}
	for level := range v.fences {
		for _, g := range v.fences[level] {
			g.Refs--
		}
	}
	for _, f := range v.files {
		f.Refs--
	}
	if v.vset != nil {
		v.vset.listMu.Lock()
		defer v.vset.listMu.Unlock()
	}
	if v.prev != nil {
		v.prev.next = v.next
	}
	if v.next != nil {
		v.next.prev = v.prev
	}
	v.prev = nil
	v.next = nil
}

// NumLevels returns the number of levels in the tree.
func (v *Version) NumLevels() int {
	return v.cfg.NumLevels
}

// Fences returns the fences at the given level, sorted by fence key.
func (v *Version) Fences(level int) []*manifest.FenceMetaData {
	if !v.cfg.ValidLevel(level) {
		return nil
	}
	return v.fences[level]
}

// NumFences returns the number of fences at the given level.
func (v *Version) NumFences(level int) int {
	return len(v.Fences(level))
}

// SentinelFiles returns the sentinel files at the given level, sorted
// by file number.
func (v *Version) SentinelFiles(level int) []*manifest.FileMetaData {
	if !v.cfg.ValidLevel(level) {
		return nil
	}
	return v.sentinels[level]
}

// LookupFile returns the metadata for a routed file, or nil.
func (v *Version) LookupFile(number manifest.FileNumber) *manifest.FileMetaData {
	return v.files[number]
}

// TotalFiles returns the number of routed files, sentinels included.
func (v *Version) TotalFiles() int {
	return len(v.files)
}

// NumLevelBytes returns the combined size of all files at a level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if !v.cfg.ValidLevel(level) {
		return 0
	}
	var size uint64
	for _, g := range v.fences[level] {
		for _, num := range g.Files {
			if f := v.files[num]; f != nil {
				size += f.FileSize
			}
		}
	}
	for _, f := range v.sentinels[level] {
		size += f.FileSize
	}
	return size
}

// VersionNumber returns the version number, for debugging.
func (v *Version) VersionNumber() uint64 {
	return v.versionNumber
}

// FenceFor returns the fence at the given level whose range contains
// userKey: the last fence with FenceKey <= userKey. A nil result means
// the key falls in the sentinel range before the first fence.
func (v *Version) FenceFor(level int, userKey []byte) *manifest.FenceMetaData {
	if !v.cfg.ValidLevel(level) {
		return nil
	}
	fences := v.fences[level]
	var match *manifest.FenceMetaData
	for _, g := range fences {
		if v.cmp.UserCompare(g.FenceKey.UserKey(), userKey) > 0 {
			break
		}
		match = g
	}
	return match
}
