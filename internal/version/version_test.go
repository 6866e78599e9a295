package version

import (
	"testing"
)

// ---------------------------------------------------------------------------
// FenceFor: the fence owning a user key is the last one whose fence
// key precedes it.
// ---------------------------------------------------------------------------

func TestFenceFor(t *testing.T) {
	vs := newTestVersionSet()

	edit := newEdit(vs)
	edit.AddFence(1, ikey("g", 100))
	edit.AddFence(1, ikey("p", 100))

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)

	tests := []struct {
		key  string
		want string // fence key, "" for sentinel range
	}{
		{"a", ""},
		{"f", ""},
		{"g", "g"},
		{"h", "g"},
		{"o", "g"},
		{"p", "p"},
		{"z", "p"},
	}
	for _, tt := range tests {
		g := v.FenceFor(1, []byte(tt.key))
		switch {
		case tt.want == "" && g != nil:
			t.Errorf("FenceFor(%q) = fence %q, want sentinel range", tt.key, g.FenceKey.UserKey())
		case tt.want != "" && g == nil:
			t.Errorf("FenceFor(%q) = nil, want fence %q", tt.key, tt.want)
		case tt.want != "" && string(g.FenceKey.UserKey()) != tt.want:
			t.Errorf("FenceFor(%q) = fence %q, want %q", tt.key, g.FenceKey.UserKey(), tt.want)
		}
	}
}

func TestFenceForInvalidLevel(t *testing.T) {
	vs := newTestVersionSet()
	v := NewBuilder(vs, nil).SaveTo(vs)
	if v.FenceFor(-1, []byte("a")) != nil || v.FenceFor(99, []byte("a")) != nil {
		t.Fatalf("FenceFor on invalid level returned a fence")
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func TestVersionAccessors(t *testing.T) {
	vs := newTestVersionSet()

	edit := newEdit(vs)
	edit.AddFence(1, ikey("g", 100))
	edit.AddFile(1, 5, 1000, ikey("h", 1), ikey("k", 2))
	edit.AddFile(1, 6, 500, ikey("a", 3), ikey("b", 4))

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)

	if v.NumLevels() != vs.cfg.NumLevels {
		t.Fatalf("NumLevels() = %d, want %d", v.NumLevels(), vs.cfg.NumLevels)
	}
	if v.NumFences(1) != 1 || v.NumFences(0) != 0 {
		t.Fatalf("fence counts: level1=%d level0=%d", v.NumFences(1), v.NumFences(0))
	}
	if got := v.NumLevelBytes(1); got != 1500 {
		t.Fatalf("NumLevelBytes(1) = %d, want 1500", got)
	}
	if v.Fences(-1) != nil || v.SentinelFiles(99) != nil {
		t.Fatalf("out-of-range level accessors returned data")
	}
}

// ---------------------------------------------------------------------------
// Version lifecycle
// ---------------------------------------------------------------------------

func TestVersionListAndUnref(t *testing.T) {
	vs := newTestVersionSet()

	v1 := NewBuilder(vs, nil).SaveTo(vs)
	v1.Ref()
	vs.appendVersion(v1)

	v2 := NewBuilder(vs, v1).SaveTo(vs)
	v2.Ref()
	vs.appendVersion(v2)

	if n := vs.NumLiveVersions(); n != 2 {
		t.Fatalf("NumLiveVersions() = %d, want 2", n)
	}

	v1.Unref()
	if n := vs.NumLiveVersions(); n != 1 {
		t.Fatalf("NumLiveVersions() after Unref = %d, want 1", n)
	}

	if v1.VersionNumber() >= v2.VersionNumber() {
		t.Fatalf("version numbers not monotonic: %d then %d",
			v1.VersionNumber(), v2.VersionNumber())
	}
}

func TestVersionUnrefReleasesMetaRefs(t *testing.T) {
	vs := newTestVersionSet()

	edit := newEdit(vs)
	edit.AddFence(1, ikey("g", 100))
	edit.AddFile(1, 5, 1000, ikey("h", 1), ikey("k", 2))

	b := NewBuilder(vs, nil)
	b.Apply(edit)
	v := b.SaveTo(vs)
	v.Ref()
	vs.appendVersion(v)

	g := v.Fences(1)[0]
	f := v.LookupFile(5)
	if g.Refs != 1 || f.Refs != 1 {
		t.Fatalf("refs after install: fence=%d file=%d, want 1/1", g.Refs, f.Refs)
	}

	v.Unref()
	if g.Refs != 0 || f.Refs != 0 {
		t.Fatalf("refs after release: fence=%d file=%d, want 0/0", g.Refs, f.Refs)
	}
}
