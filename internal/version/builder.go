package version

import (
	"sort"

	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/manifest"
)

// Builder folds a sequence of VersionEdits into a base Version and
// produces the resulting Version without materializing intermediates.
//
//	b := NewBuilder(vset, base)
//	b.Apply(edit1)
//	b.Apply(edit2)
//	next := b.SaveTo(vset)
//
// Fences are unique per (level, fenceKey): applying a fence that
// already exists merges its file list instead of installing a
// duplicate.
type Builder struct {
	vset *VersionSet
	base *Version
	cfg  config.Config
	cmp  *keys.InternalKeyComparator

	addedFiles   []map[manifest.FileNumber]*manifest.FileMetaData
	deletedFiles []map[manifest.FileNumber]struct{}

	// Fence maps are keyed by the raw fence key bytes.
	addedFences   []map[string]*manifest.FenceMetaData
	deletedFences []map[string]struct{}

	addedSentinels   []map[manifest.FileNumber]*manifest.FileMetaData
	deletedSentinels []map[manifest.FileNumber]struct{}
}

// NewBuilder creates a Builder on top of base. A nil base starts from
// an empty tree.
func NewBuilder(vset *VersionSet, base *Version) *Builder {
	cfg := vset.cfg
	b := &Builder{
		vset:             vset,
		base:             base,
		cfg:              cfg,
		cmp:              vset.cmp,
		addedFiles:       make([]map[manifest.FileNumber]*manifest.FileMetaData, cfg.NumLevels),
		deletedFiles:     make([]map[manifest.FileNumber]struct{}, cfg.NumLevels),
		addedFences:      make([]map[string]*manifest.FenceMetaData, cfg.NumLevels),
		deletedFences:    make([]map[string]struct{}, cfg.NumLevels),
		addedSentinels:   make([]map[manifest.FileNumber]*manifest.FileMetaData, cfg.NumLevels),
		deletedSentinels: make([]map[manifest.FileNumber]struct{}, cfg.NumLevels),
	}
	for i := 0; i < cfg.NumLevels; i++ {
		b.addedFiles[i] = make(map[manifest.FileNumber]*manifest.FileMetaData)
		b.deletedFiles[i] = make(map[manifest.FileNumber]struct{})
		b.addedFences[i] = make(map[string]*manifest.FenceMetaData)
		b.deletedFences[i] = make(map[string]struct{})
		b.addedSentinels[i] = make(map[manifest.FileNumber]*manifest.FileMetaData)
		b.deletedSentinels[i] = make(map[manifest.FileNumber]struct{})
	}
	return b
}

// Apply folds one edit into the builder state.
func (b *Builder) Apply(edit *manifest.VersionEdit) error {
	for _, df := range edit.DeletedFiles {
		if !b.cfg.ValidLevel(df.Level) {
			continue
		}
		if _, wasAdded := b.addedFiles[df.Level][df.Number]; wasAdded {
			// Added and deleted within the same builder: a no-op.
			delete(b.addedFiles[df.Level], df.Number)
			continue
		}
		b.deletedFiles[df.Level][df.Number] = struct{}{}
	}

	for _, nf := range edit.NewFiles {
		if !b.cfg.ValidLevel(nf.Level) {
			continue
		}
		delete(b.deletedFiles[nf.Level], nf.Meta.Number)
		b.addedFiles[nf.Level][nf.Meta.Number] = nf.Meta
	}

	for level, fences := range edit.NewFences {
		for _, g := range fences {
			b.applyFence(level, g)
		}
	}
	for level, fences := range edit.NewCompleteFences {
		for _, g := range fences {
			b.applyFence(level, g)
		}
	}

	for _, dg := range edit.DeletedFences {
		if !b.cfg.ValidLevel(dg.Level) {
			continue
		}
		key := string(dg.FenceKey)
		if _, wasAdded := b.addedFences[dg.Level][key]; wasAdded {
			delete(b.addedFences[dg.Level], key)
			continue
		}
		b.deletedFences[dg.Level][key] = struct{}{}
	}

	for level, metas := range edit.SentinelFiles {
		for _, f := range metas {
			delete(b.deletedSentinels[level], f.Number)
			b.addedSentinels[level][f.Number] = f
		}
	}
	for level, numbers := range edit.SentinelFileNumbers {
		for _, num := range numbers {
			if _, known := b.addedSentinels[level][num]; known {
				continue
			}
			delete(b.deletedSentinels[level], num)
			meta := manifest.NewFileMetaData()
			meta.Number = num
			b.addedSentinels[level][num] = meta
		}
	}
	for _, df := range edit.DeletedSentinelFiles {
		if !b.cfg.ValidLevel(df.Level) {
			continue
		}
		if _, wasAdded := b.addedSentinels[df.Level][df.Number]; wasAdded {
			delete(b.addedSentinels[df.Level], df.Number)
			continue
		}
		b.deletedSentinels[df.Level][df.Number] = struct{}{}
	}

	return nil
}

// applyFence installs a fence, merging into a fence already staged for
// the same (level, fenceKey).
func (b *Builder) applyFence(level int, g *manifest.FenceMetaData) {
	key := string(g.FenceKey)
	delete(b.deletedFences[level], key)
	existing, ok := b.addedFences[level][key]
	if !ok {
		b.addedFences[level][key] = cloneFence(g)
		return
	}
	mergeFenceFiles(existing, g, b.cmp)
}

// SaveTo produces the Version resulting from the applied edits and
// takes references on its fences and files.
func (b *Builder) SaveTo(vset *VersionSet) *Version {
	v := newVersion(vset, b.cfg, b.cmp, vset.nextVersionNumber())

	// Carry forward the base file arena minus deletions.
	if b.base != nil {
		for num, f := range b.base.files {
			if b.fileDeleted(num) {
				continue
			}
			v.files[num] = f
		}
	}

	for level := 0; level < b.cfg.NumLevels; level++ {
		merged := make(map[string]*manifest.FenceMetaData)
		if b.base != nil {
			for _, g := range b.base.fences[level] {
				key := string(g.FenceKey)
				if _, deleted := b.deletedFences[level][key]; deleted {
					continue
				}
				merged[key] = cloneFence(g)
			}
		}
		for key, g := range b.addedFences[level] {
			if existing, ok := merged[key]; ok {
				mergeFenceFiles(existing, g, b.cmp)
				continue
			}
			merged[key] = cloneFence(g)
		}

		fences := make([]*manifest.FenceMetaData, 0, len(merged))
		for _, g := range merged {
			g.Level = level
			if g.ID == 0 {
				g.ID = vset.nextFenceID()
			}
			fences = append(fences, g)
		}
		sort.Slice(fences, func(i, j int) bool {
			return b.cmp.Compare(fences[i].FenceKey, fences[j].FenceKey) < 0
		})

		// Sentinels: base minus deletions plus additions.
		sentinelSet := make(map[manifest.FileNumber]*manifest.FileMetaData)
		if b.base != nil {
			for _, f := range b.base.sentinels[level] {
				if _, deleted := b.deletedSentinels[level][f.Number]; deleted {
					continue
				}
				sentinelSet[f.Number] = f
			}
		}
		for num, f := range b.addedSentinels[level] {
			sentinelSet[num] = f
		}

		// Route the new files of this level: a file belongs to the last
		// fence whose key is <= its smallest key, or to the sentinel
		// range when no fence precedes it.
		for _, f := range sortedAddedFiles(b.addedFiles[level]) {
			fence := coveringFence(fences, f.Smallest, b.cmp)
			if fence == nil {
				sentinelSet[f.Number] = f
				v.files[f.Number] = f
				continue
			}
			attachFile(fence, f, b.cmp)
			f.Fence = fence.ID
			v.files[f.Number] = f
		}

		// Strip deleted file numbers from the fence segment lists.
		for _, g := range fences {
			g.Files = filterDeleted(g.Files, b.deletedFiles[level])
			g.NumberSegments = uint64(len(g.Files))
		}

		sentinels := make([]*manifest.FileMetaData, 0, len(sentinelSet))
		for _, f := range sentinelSet {
			sentinels = append(sentinels, f)
			v.files[f.Number] = f
		}
		sort.Slice(sentinels, func(i, j int) bool {
			return sentinels[i].Number < sentinels[j].Number
		})

		v.fences[level] = fences
		v.sentinels[level] = sentinels
	}

	for level := range v.fences {
		for _, g := range v.fences[level] {
			g.Refs++
		}
	}
	for _, f := range v.files {
		f.Refs++
	}

	return v
}

func (b *Builder) fileDeleted(num manifest.FileNumber) bool {
	for level := 0; level < b.cfg.NumLevels; level++ {
		if _, ok := b.deletedFiles[level][num]; ok {
			return true
		}
		if _, ok := b.deletedSentinels[level][num]; ok {
			return true
		}
	}
	return false
}

// cloneFence copies a fence so the base version stays immutable. The
// clone starts unreferenced; SaveTo refs it on install.
func cloneFence(g *manifest.FenceMetaData) *manifest.FenceMetaData {
	clone := *g
	clone.Refs = 0
	clone.Files = append([]manifest.FileNumber(nil), g.Files...)
	return &clone
}

// mergeFenceFiles unions src's segment list into dst and widens dst's
// key bounds.
func mergeFenceFiles(dst, src *manifest.FenceMetaData, cmp *keys.InternalKeyComparator) {
	for _, num := range src.Files {
		if !containsFile(dst.Files, num) {
			dst.Files = append(dst.Files, num)
		}
	}
	dst.NumberSegments = uint64(len(dst.Files))
	if src.NumberSegments > 0 {
		widenBounds(dst, src.Smallest, src.Largest, cmp)
	}
}

// attachFile adds a file to a fence's segment list and widens the
// fence bounds to cover it.
func attachFile(g *manifest.FenceMetaData, f *manifest.FileMetaData, cmp *keys.InternalKeyComparator) {
	if !containsFile(g.Files, f.Number) {
		g.Files = append(g.Files, f.Number)
	}
	g.NumberSegments = uint64(len(g.Files))
	widenBounds(g, f.Smallest, f.Largest, cmp)
}

func widenBounds(g *manifest.FenceMetaData, smallest, largest keys.InternalKey, cmp *keys.InternalKeyComparator) {
	if len(g.Smallest) == 0 || cmp.Compare(smallest, g.Smallest) < 0 {
		g.Smallest = smallest
	}
	if len(g.Largest) == 0 || cmp.Compare(largest, g.Largest) > 0 {
		g.Largest = largest
	}
}

func containsFile(files []manifest.FileNumber, num manifest.FileNumber) bool {
	for _, n := range files {
		if n == num {
			return true
		}
	}
	return false
}

func filterDeleted(files []manifest.FileNumber, deleted map[manifest.FileNumber]struct{}) []manifest.FileNumber {
	if len(deleted) == 0 {
		return files
	}
	kept := files[:0]
	for _, num := range files {
		if _, ok := deleted[num]; ok {
			continue
		}
		kept = append(kept, num)
	}
	return kept
}

// coveringFence returns the last fence with FenceKey <= smallest, by
// user key order, or nil when the file precedes every fence.
func coveringFence(fences []*manifest.FenceMetaData, smallest keys.InternalKey, cmp *keys.InternalKeyComparator) *manifest.FenceMetaData {
	i := sort.Search(len(fences), func(i int) bool {
		return cmp.UserCompare(fences[i].FenceKey.UserKey(), smallest.UserKey()) > 0
	})
	if i == 0 {
		return nil
	}
	return fences[i-1]
}

// sortedAddedFiles returns added files ordered by file number so
// routing is deterministic.
func sortedAddedFiles(m map[manifest.FileNumber]*manifest.FileMetaData) []*manifest.FileMetaData {
	files := make([]*manifest.FileMetaData, 0, len(m))
	for _, f := range m {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Number < files[j].Number
	})
	return files
}
