package batch

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/spaolacci/murmur3"

	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/logging"
)

// testFenceConfig promotes often enough for small key sets to exercise
// the full level range: level bits {3, 2, 1} pass for 1/8, 1/4, and 1/2
// of keys respectively.
func testFenceConfig() config.Config {
	cfg := config.Default()
	cfg.NumLevels = 3
	cfg.FenceTopLevelBits = 3
	cfg.FenceBitDecrement = 1
	return cfg
}

func testKeys(n int) [][]byte {
	ks := make([][]byte, n)
	for i := range ks {
		ks[i] = []byte(fmt.Sprintf("user-key-%04d", i))
	}
	return ks
}

// promotions replays a selector output batch into a per-key level map.
func promotions(t *testing.T, out *WriteBatch) map[string][]int {
	t.Helper()
	got := make(map[string][]int)
	r := NewReader(out)
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		if rec.Kind != keys.KindFence {
			t.Fatalf("selector output contains %v record", rec.Kind)
		}
		got[string(rec.Key)] = append(got[string(rec.Key)], rec.Level)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reading selector output: %v", err)
	}
	return got
}

func TestFenceSelectionMatchesHashSchedule(t *testing.T) {
	cfg := testFenceConfig()

	src := New()
	for _, k := range testKeys(256) {
		src.Put(k, []byte("v"))
	}

	out, err := SelectFences(cfg, logging.Discard, src)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	got := promotions(t, out)

	for _, k := range testKeys(256) {
		h := murmur3.Sum32WithSeed(k, cfg.FenceHashSeed)
		entry := -1
		for level := 0; level < cfg.NumLevels; level++ {
			mask := uint32(1)<<cfg.LevelBits(level) - 1
			if h&mask == mask {
				entry = level
				break
			}
		}

		levels := got[string(k)]
		if entry == -1 {
			if len(levels) != 0 {
				t.Errorf("key %q: promoted at %v, want no promotion", k, levels)
			}
			continue
		}
		want := make([]int, 0, cfg.NumLevels-entry)
		for level := entry; level < cfg.NumLevels; level++ {
			want = append(want, level)
		}
		if len(levels) != len(want) {
			t.Errorf("key %q: promoted at %v, want %v", k, levels, want)
			continue
		}
		for i := range want {
			if levels[i] != want[i] {
				t.Errorf("key %q: promoted at %v, want %v", k, levels, want)
				break
			}
		}
	}
}

// A key promoted at level i must be promoted at every deeper level and
// at no shallower one; the promoted set is always a contiguous suffix.
func TestFenceMonotonicity(t *testing.T) {
	cfg := testFenceConfig()

	src := New()
	for _, k := range testKeys(512) {
		src.Put(k, []byte("v"))
	}

	out, err := SelectFences(cfg, logging.Discard, src)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}

	for key, levels := range promotions(t, out) {
		entry := levels[0]
		if want := cfg.NumLevels - entry; len(levels) != want {
			t.Errorf("key %q: %d promotions from entry level %d, want %d", key, len(levels), entry, want)
			continue
		}
		for i, level := range levels {
			if level != entry+i {
				t.Errorf("key %q: promoted levels %v are not contiguous", key, levels)
				break
			}
		}
	}
}

// The decision for a key depends only on its bytes: batch ordering and
// surrounding keys never change it.
func TestFenceDeterminism(t *testing.T) {
	cfg := testFenceConfig()
	ks := testKeys(64)

	forward := New()
	for _, k := range ks {
		forward.Put(k, []byte("v"))
	}
	backward := New()
	for i := len(ks) - 1; i >= 0; i-- {
		backward.Put(ks[i], []byte("other"))
	}

	outF, err := SelectFences(cfg, logging.Discard, forward)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	outB, err := SelectFences(cfg, logging.Discard, backward)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}

	pf, pb := promotions(t, outF), promotions(t, outB)
	if len(pf) != len(pb) {
		t.Fatalf("promoted key sets differ: %d vs %d", len(pf), len(pb))
	}
	for key, levels := range pf {
		other, ok := pb[key]
		if !ok || len(other) != len(levels) {
			t.Errorf("key %q: %v vs %v", key, levels, other)
			continue
		}
		for i := range levels {
			if levels[i] != other[i] {
				t.Errorf("key %q: %v vs %v", key, levels, other)
				break
			}
		}
	}

	// Same batch twice yields byte-identical output.
	again, err := SelectFences(cfg, logging.Discard, forward)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	if !bytes.Equal(outF.Data(), again.Data()) {
		t.Error("repeated selection produced different output bytes")
	}
}

func TestFenceSelectorDeletesIgnored(t *testing.T) {
	cfg := testFenceConfig()

	src := New()
	for _, k := range testKeys(128) {
		src.Delete(k)
	}

	out, err := SelectFences(cfg, logging.Discard, src)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	if out.Count() != 0 {
		t.Errorf("deletes produced %d promotions", out.Count())
	}
}

func TestFenceSelectorCounters(t *testing.T) {
	cfg := testFenceConfig()

	fs := NewFenceSelector(cfg, logging.Discard, 1)
	src := New()
	for _, k := range testKeys(256) {
		src.Put(k, []byte("v"))
	}
	if err := src.Iterate(fs); err != nil {
		t.Fatalf("Iterate error: %v", err)
	}

	total := 0
	for _, n := range fs.PromotedByLevel() {
		total += n
	}
	if uint32(total) != fs.Output().Count() {
		t.Errorf("counters sum to %d, output has %d records", total, fs.Output().Count())
	}
	// With 1-bit masks at the deepest level, 256 keys essentially never
	// all miss.
	if total == 0 {
		t.Error("no key promoted out of 256")
	}
}

func TestFenceSelectorRejectsFenceInput(t *testing.T) {
	src := New()
	src.Put([]byte("ok"), []byte("v"))
	src.PutFence([]byte("bad"), 1)

	_, err := SelectFences(testFenceConfig(), logging.Discard, src)
	if !errors.Is(err, ErrUnexpectedFence) {
		t.Errorf("SelectFences error = %v, want ErrUnexpectedFence", err)
	}
}

func TestFenceSelectorAlternateHash(t *testing.T) {
	cfg := testFenceConfig()
	cfg.FenceHashFunc = config.HashXXH3

	src := New()
	for _, k := range testKeys(128) {
		src.Put(k, []byte("v"))
	}

	out1, err := SelectFences(cfg, logging.Discard, src)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	out2, err := SelectFences(cfg, logging.Discard, src)
	if err != nil {
		t.Fatalf("SelectFences error: %v", err)
	}
	if !bytes.Equal(out1.Data(), out2.Data()) {
		t.Error("xxh3 selection is not deterministic")
	}
	for _, levels := range promotions(t, out1) {
		if levels[0]+len(levels) != cfg.NumLevels {
			t.Errorf("xxh3 promotion set %v is not a level suffix", levels)
		}
	}
}
