package version

import (
	"testing"

	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/manifest"
	"github.com/fencekv/fencekv/internal/vfs"
)

func newTestVersionSet() *VersionSet {
	return NewVersionSet(Options{
		DirPath: "/db",
		FS:      vfs.NewMemFS(),
	})
}

func ikey(user string, seq keys.SequenceNumber) keys.InternalKey {
	return keys.MakeInternalKey([]byte(user), seq, keys.KindValue)
}

func newEdit(vs *VersionSet) *manifest.VersionEdit {
	return manifest.NewVersionEdit(vs.cfg, vs.cmp)
}

// ---------------------------------------------------------------------------
// File routing: a new file lands in the last fence whose key precedes
// its smallest key, or in the sentinel range when no fence does.
// ---------------------------------------------------------------------------

func TestBuilderRoutesFilesToFences(t *testing.T) {
	vs := newTestVersionSet()

	edit := newEdit(vs)
	edit.AddFence(1, ikey("m", 100))
	edit.AddFile(1, 7, 4096, ikey("p", 10), ikey("q", 11))
	edit.AddFile(1, 8, 2048, ikey("a", 12), ikey("c", 13))

	b := NewBuilder(vs, nil)
	if err := b.Apply(edit); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v := b.SaveTo(vs)

	fences := v.Fences(1)
	if len(fences) != 1 {
		t.Fatalf("NumFences(1) = %d, want 1", len(fences))
	}
	g := fences[0]
	if g.NumberSegments != 1 || len(g.Files) != 1 || g.Files[0] != 7 {
		t.Fatalf("fence files = %v (segments %d), want [7]", g.Files, g.NumberSegments)
	}
	if g.ID == 0 {
		t.Fatalf("installed fence was not assigned an ID")
	}

	// File 8 starts at "a", before the fence key "m": sentinel range.
	sentinels := v.SentinelFiles(1)
	if len(sentinels) != 1 || sentinels[0].Number != 8 {
		t.Fatalf("sentinels = %v, want file 8", sentinels)
	}

	f := v.LookupFile(7)
	if f == nil || f.Fence != g.ID {
		t.Fatalf("file 7 not attached to fence %d", g.ID)
	}
	if v.TotalFiles() != 2 {
		t.Fatalf("TotalFiles() = %d, want 2", v.TotalFiles())
	}
}

func TestBuilderFenceBoundsWiden(t *testing.T) {
	vs := newTestVersionSet()

	edit := newEdit(vs)
	edit.AddFence(2, ikey("g", 100))
	edit.AddFile(2, 1, 100, ikey("h", 1), ikey("k", 2))
	edit.AddFile(2, 2, 100, ikey("m", 3), ikey("z", 4))

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)

	g := v.Fences(2)[0]
	if g.NumberSegments != 2 {
		t.Fatalf("NumberSegments = %d, want 2", g.NumberSegments)
	}
	if string(g.Smallest.UserKey()) != "h" || string(g.Largest.UserKey()) != "z" {
		t.Fatalf("fence bounds = [%s, %s], want [h, z]", g.Smallest.UserKey(), g.Largest.UserKey())
	}
}

// ---------------------------------------------------------------------------
// Fence uniqueness per (level, fenceKey)
// ---------------------------------------------------------------------------

func TestBuilderFenceUniqueness(t *testing.T) {
	vs := newTestVersionSet()
	b := NewBuilder(vs, nil)

	edit1 := newEdit(vs)
	edit1.AddFence(1, ikey("m", 100))
	edit2 := newEdit(vs)
	edit2.AddFence(1, ikey("m", 100))
	edit2.AddFence(2, ikey("m", 100))

	b.Apply(edit1)
	b.Apply(edit2)
	v := b.SaveTo(vs)

	if n := v.NumFences(1); n != 1 {
		t.Fatalf("NumFences(1) = %d, want 1 (duplicate fence must merge)", n)
	}
	// Same key on another level is a distinct fence.
	if n := v.NumFences(2); n != 1 {
		t.Fatalf("NumFences(2) = %d, want 1", n)
	}
}

func TestBuilderFenceUniquenessAcrossBase(t *testing.T) {
	vs := newTestVersionSet()

	b1 := NewBuilder(vs, nil)
	edit := newEdit(vs)
	edit.AddFence(1, ikey("m", 100))
	b1.Apply(edit)
	base := b1.SaveTo(vs)
	baseID := base.Fences(1)[0].ID

	// Re-adding the same fence on top of a base holding it merges.
	b2 := NewBuilder(vs, base)
	again := newEdit(vs)
	again.AddFence(1, ikey("m", 100))
	b2.Apply(again)
	v := b2.SaveTo(vs)

	if n := v.NumFences(1); n != 1 {
		t.Fatalf("NumFences(1) = %d, want 1", n)
	}
	if v.Fences(1)[0].ID != baseID {
		t.Fatalf("merged fence got a new ID %d, want %d", v.Fences(1)[0].ID, baseID)
	}
}

// ---------------------------------------------------------------------------
// Deletions
// ---------------------------------------------------------------------------

func TestBuilderDeleteFile(t *testing.T) {
	vs := newTestVersionSet()

	b1 := NewBuilder(vs, nil)
	edit := newEdit(vs)
	edit.AddFence(1, ikey("a", 100))
	edit.AddFile(1, 7, 4096, ikey("b", 1), ikey("c", 2))
	b1.Apply(edit)
	base := b1.SaveTo(vs)

	b2 := NewBuilder(vs, base)
	del := newEdit(vs)
	del.RemoveFile(1, 7)
	b2.Apply(del)
	v := b2.SaveTo(vs)

	if v.LookupFile(7) != nil {
		t.Fatalf("deleted file 7 still routed")
	}
	g := v.Fences(1)[0]
	if g.NumberSegments != 0 || len(g.Files) != 0 {
		t.Fatalf("fence still lists deleted file: %v", g.Files)
	}
	// The base version is unchanged.
	if base.Fences(1)[0].NumberSegments != 1 {
		t.Fatalf("deletion mutated the base version")
	}
}

func TestBuilderAddThenDeleteSameBatch(t *testing.T) {
	vs := newTestVersionSet()
	b := NewBuilder(vs, nil)

	add := newEdit(vs)
	add.AddFile(1, 7, 4096, ikey("b", 1), ikey("c", 2))
	del := newEdit(vs)
	del.RemoveFile(1, 7)

	b.Apply(add)
	b.Apply(del)
	v := b.SaveTo(vs)

	if v.TotalFiles() != 0 {
		t.Fatalf("add-then-delete left %d files", v.TotalFiles())
	}
}

func TestBuilderDeleteFence(t *testing.T) {
	vs := newTestVersionSet()

	b1 := NewBuilder(vs, nil)
	edit := newEdit(vs)
	edit.AddFence(1, ikey("a", 100))
	edit.AddFence(1, ikey("m", 100))
	b1.Apply(edit)
	base := b1.SaveTo(vs)

	b2 := NewBuilder(vs, base)
	del := newEdit(vs)
	del.DeleteFence(1, ikey("a", 100))
	b2.Apply(del)
	v := b2.SaveTo(vs)

	fences := v.Fences(1)
	if len(fences) != 1 || string(fences[0].FenceKey.UserKey()) != "m" {
		t.Fatalf("fences after delete = %v", fences)
	}
}

// ---------------------------------------------------------------------------
// Complete fences and sentinel entries
// ---------------------------------------------------------------------------

func TestBuilderCompleteFence(t *testing.T) {
	vs := newTestVersionSet()

	g := &manifest.FenceMetaData{
		FenceKey:       ikey("m", 100),
		Smallest:       ikey("m", 1),
		Largest:        ikey("x", 2),
		NumberSegments: 2,
		Files:          []manifest.FileNumber{70, 71},
	}
	edit := newEdit(vs)
	edit.AddCompleteFence(3, g)
	edit.AddFile(3, 70, 100, ikey("m", 1), ikey("p", 2))
	edit.AddFile(3, 71, 100, ikey("q", 3), ikey("x", 4))

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)

	got := v.Fences(3)[0]
	if got.NumberSegments != 2 || len(got.Files) != 2 {
		t.Fatalf("complete fence files = %v, want [70 71]", got.Files)
	}
	// The two AddFile entries route into the same fence without
	// duplicating the segment list.
	if got.Files[0] != 70 || got.Files[1] != 71 {
		t.Fatalf("fence files = %v, want [70 71]", got.Files)
	}
}

func TestBuilderSentinelEntries(t *testing.T) {
	vs := newTestVersionSet()

	meta := manifest.NewFileMetaData()
	meta.Number = 9
	meta.FileSize = 512
	meta.Smallest = ikey("a", 1)
	meta.Largest = ikey("b", 2)

	edit := newEdit(vs)
	edit.AddSentinelFile(0, meta)
	edit.AddSentinelFileNumber(0, 10)

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)

	sentinels := v.SentinelFiles(0)
	if len(sentinels) != 2 {
		t.Fatalf("sentinels = %v, want files 9 and 10", sentinels)
	}
	if sentinels[0].Number != 9 || sentinels[1].Number != 10 {
		t.Fatalf("sentinel order = [%d %d], want [9 10]", sentinels[0].Number, sentinels[1].Number)
	}

	b2 := NewBuilder(vs, v)
	del := newEdit(vs)
	del.RemoveSentinelFile(0, 9)
	b2.Apply(del)
	v2 := b2.SaveTo(vs)

	if got := v2.SentinelFiles(0); len(got) != 1 || got[0].Number != 10 {
		t.Fatalf("sentinels after delete = %v, want file 10", got)
	}
}
