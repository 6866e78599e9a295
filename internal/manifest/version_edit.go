// version_edit.go implements VersionEdit encoding and decoding.
//
// VersionEdit describes a set of changes to be applied to a Version:
// files added and removed per level, fences created or dropped, sentinel
// file staging, and the scalar bookkeeping numbers (log number, next
// file number, last sequence). Encoded edits are appended to the
// manifest log and replayed during recovery.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/encoding"
	"github.com/fencekv/fencekv/internal/keys"
)

// CompactPointer records the key at which compaction for a level should
// resume.
type CompactPointer struct {
	Level int
	Key   keys.InternalKey
}

// DeletedFileEntry identifies a file removed from a level. It doubles
// as the element type of the deleted-sentinel-file set.
type DeletedFileEntry struct {
	Level  int
	Number FileNumber
}

// NewFileEntry pairs a new file with its target level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetaData
}

// DeletedFenceEntry identifies a fence removed from a level.
type DeletedFenceEntry struct {
	Level    int
	FenceKey keys.InternalKey
}

// VersionEdit accumulates a batch of metadata deltas. Build it through
// the setters, then either encode it for the manifest log or hand it to
// the version builder. A single writer owns an edit at a time; there is
// no internal locking.
type VersionEdit struct {
	cfg config.Config
	cmp *keys.InternalKeyComparator

	Comparator    string
	HasComparator bool

	LogNumber    FileNumber
	HasLogNumber bool

	PrevLogNumber    FileNumber
	HasPrevLogNumber bool

	NextFileNumber    FileNumber
	HasNextFileNumber bool

	LastSequence    keys.SequenceNumber
	HasLastSequence bool

	CompactPointers []CompactPointer

	// DeletedFiles and DeletedSentinelFiles are sets ordered by
	// (level, number); duplicate inserts are no-ops.
	DeletedFiles         []DeletedFileEntry
	DeletedSentinelFiles []DeletedFileEntry

	NewFiles []NewFileEntry

	// DeletedFences is a set ordered by level, then by fence key under
	// the edit's comparator.
	DeletedFences []DeletedFenceEntry

	// NewFences holds freshly created fences per level; their file
	// lists are never persisted. NewCompleteFences holds finalized
	// fences whose observed bounds and file lists round-trip through
	// the manifest.
	NewFences         [][]*FenceMetaData
	NewCompleteFences [][]*FenceMetaData

	// SentinelFiles stages full sentinel file metadata per level;
	// SentinelFileNumbers stages bare file numbers.
	SentinelFiles       [][]*FileMetaData
	SentinelFileNumbers [][]FileNumber
}

// NewVersionEdit returns an empty edit sized for cfg's level count and
// ordered by cmp.
func NewVersionEdit(cfg config.Config, cmp *keys.InternalKeyComparator) *VersionEdit {
	ve := &VersionEdit{cfg: cfg, cmp: cmp}
	ve.Clear()
	return ve
}

// Clear resets the edit to the empty state for reuse.
func (ve *VersionEdit) Clear() {
	cfg, cmp := ve.cfg, ve.cmp
	*ve = VersionEdit{cfg: cfg, cmp: cmp}
	ve.NewFences = make([][]*FenceMetaData, cfg.NumLevels)
	ve.NewCompleteFences = make([][]*FenceMetaData, cfg.NumLevels)
	ve.SentinelFiles = make([][]*FileMetaData, cfg.NumLevels)
	ve.SentinelFileNumbers = make([][]FileNumber, cfg.NumLevels)
}

func (ve *VersionEdit) checkLevel(level int) {
	if !ve.cfg.ValidLevel(level) {
		panic(fmt.Sprintf("manifest: level %d out of range [0, %d)", level, ve.cfg.NumLevels))
	}
}

// SetComparatorName records the comparator the database was created
// with.
func (ve *VersionEdit) SetComparatorName(name string) {
	ve.Comparator = name
	ve.HasComparator = true
}

// SetLogNumber sets the current write-ahead log number.
func (ve *VersionEdit) SetLogNumber(num FileNumber) {
	ve.LogNumber = num
	ve.HasLogNumber = true
}

// SetPrevLogNumber sets the previous write-ahead log number.
func (ve *VersionEdit) SetPrevLogNumber(num FileNumber) {
	ve.PrevLogNumber = num
	ve.HasPrevLogNumber = true
}

// SetNextFileNumber sets the next file number to allocate.
func (ve *VersionEdit) SetNextFileNumber(num FileNumber) {
	ve.NextFileNumber = num
	ve.HasNextFileNumber = true
}

// SetLastSequence sets the last sequence number in use.
func (ve *VersionEdit) SetLastSequence(seq keys.SequenceNumber) {
	ve.LastSequence = seq
	ve.HasLastSequence = true
}

// SetCompactPointer records the key at which the next compaction of
// level should resume.
func (ve *VersionEdit) SetCompactPointer(level int, key keys.InternalKey) {
	ve.checkLevel(level)
	ve.CompactPointers = append(ve.CompactPointers, CompactPointer{Level: level, Key: key})
}

// AddFile records a new file at the given level. The smallest and
// largest keys bound every key stored in the file.
func (ve *VersionEdit) AddFile(level int, number FileNumber, fileSize uint64, smallest, largest keys.InternalKey) {
	ve.checkLevel(level)
	meta := NewFileMetaData()
	meta.Number = number
	meta.FileSize = fileSize
	meta.Smallest = smallest
	meta.Largest = largest
	ve.NewFiles = append(ve.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// RemoveFile records the deletion of a file from a level. Removing the
// same file twice is a no-op.
func (ve *VersionEdit) RemoveFile(level int, number FileNumber) {
	ve.checkLevel(level)
	ve.DeletedFiles = insertDeletedFile(ve.DeletedFiles, level, number)
}

// AddFence records a freshly created fence at the given level. Only the
// fence key is persisted; file membership is reconstructed at apply
// time from the live file set.
func (ve *VersionEdit) AddFence(level int, fenceKey keys.InternalKey) {
	ve.checkLevel(level)
	ve.NewFences[level] = append(ve.NewFences[level], &FenceMetaData{
		Level:    level,
		FenceKey: fenceKey,
	})
}

// AddCompleteFence records a finalized fence whose observed bounds and
// file list are persisted as-is.
func (ve *VersionEdit) AddCompleteFence(level int, fence *FenceMetaData) {
	ve.checkLevel(level)
	if fence.Level != level {
		panic("manifest: complete fence level mismatch")
	}
	ve.NewCompleteFences[level] = append(ve.NewCompleteFences[level], fence)
}

// DeleteFence records the removal of the fence starting at fenceKey
// from a level. Deleting the same fence twice is a no-op.
func (ve *VersionEdit) DeleteFence(level int, fenceKey keys.InternalKey) {
	ve.checkLevel(level)
	entry := DeletedFenceEntry{Level: level, FenceKey: fenceKey}
	i := sort.Search(len(ve.DeletedFences), func(i int) bool {
		return !ve.deletedFenceLess(ve.DeletedFences[i], entry)
	})
	if i < len(ve.DeletedFences) &&
		ve.DeletedFences[i].Level == level &&
		ve.cmp.Compare(ve.DeletedFences[i].FenceKey, fenceKey) == 0 {
		return
	}
	ve.DeletedFences = append(ve.DeletedFences, DeletedFenceEntry{})
	copy(ve.DeletedFences[i+1:], ve.DeletedFences[i:])
	ve.DeletedFences[i] = entry
}

func (ve *VersionEdit) deletedFenceLess(a, b DeletedFenceEntry) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	return ve.cmp.Compare(a.FenceKey, b.FenceKey) < 0
}

// AddSentinelFile stages a sentinel file's full metadata at a level.
func (ve *VersionEdit) AddSentinelFile(level int, meta *FileMetaData) {
	ve.checkLevel(level)
	ve.SentinelFiles[level] = append(ve.SentinelFiles[level], meta)
}

// AddSentinelFileNumber stages a sentinel file number at a level.
func (ve *VersionEdit) AddSentinelFileNumber(level int, number FileNumber) {
	ve.checkLevel(level)
	ve.SentinelFileNumbers[level] = append(ve.SentinelFileNumbers[level], number)
}

// RemoveSentinelFile records the deletion of a sentinel file from a
// level. Removing the same file twice is a no-op.
func (ve *VersionEdit) RemoveSentinelFile(level int, number FileNumber) {
	ve.checkLevel(level)
	ve.DeletedSentinelFiles = insertDeletedFile(ve.DeletedSentinelFiles, level, number)
}

func insertDeletedFile(set []DeletedFileEntry, level int, number FileNumber) []DeletedFileEntry {
	i := sort.Search(len(set), func(i int) bool {
		if set[i].Level != level {
			return set[i].Level > level
		}
		return set[i].Number >= number
	})
	if i < len(set) && set[i].Level == level && set[i].Number == number {
		return set
	}
	set = append(set, DeletedFileEntry{})
	copy(set[i+1:], set[i:])
	set[i] = DeletedFileEntry{Level: level, Number: number}
	return set
}

// EncodeTo serializes the edit as a run of tagged records. Absent
// scalar fields and empty collections produce no output.
func (ve *VersionEdit) EncodeTo() []byte {
	var dst []byte

	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, uint64(ve.LogNumber))
	}
	if ve.HasPrevLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagPrevLogNumber))
		dst = encoding.AppendVarint64(dst, uint64(ve.PrevLogNumber))
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, uint64(ve.NextFileNumber))
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}

	for _, cp := range ve.CompactPointers {
		dst = encoding.AppendVarint32(dst, uint32(TagCompactPointer))
		dst = encoding.AppendVarint32(dst, uint32(cp.Level))
		dst = encoding.AppendLengthPrefixedSlice(dst, cp.Key.Encode())
	}

	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, uint64(df.Number))
	}

	for _, nf := range ve.NewFiles {
		dst = appendFileRecord(dst, TagNewFile, nf.Level, nf.Meta)
	}

	for _, dg := range ve.DeletedFences {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFence))
		dst = encoding.AppendVarint32(dst, uint32(dg.Level))
		dst = encoding.AppendLengthPrefixedSlice(dst, dg.FenceKey.Encode())
	}

	// New fences always persist an empty segment list: file membership
	// is rebuilt from the live file set when the edit is applied.
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, g := range ve.NewFences[level] {
			dst = encoding.AppendVarint32(dst, uint32(TagNewFence))
			dst = encoding.AppendVarint32(dst, uint32(g.Level))
			dst = encoding.AppendVarint64(dst, 0)
			dst = encoding.AppendLengthPrefixedSlice(dst, g.FenceKey.Encode())
		}
	}

	// Complete fences carry their observed bounds and file list.
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, g := range ve.NewCompleteFences[level] {
			dst = encoding.AppendVarint32(dst, uint32(TagNewCompleteFence))
			dst = encoding.AppendVarint32(dst, uint32(g.Level))
			dst = encoding.AppendVarint64(dst, g.NumberSegments)
			dst = encoding.AppendLengthPrefixedSlice(dst, g.FenceKey.Encode())
			if g.NumberSegments > 0 {
				dst = encoding.AppendLengthPrefixedSlice(dst, g.Smallest.Encode())
				dst = encoding.AppendLengthPrefixedSlice(dst, g.Largest.Encode())
				for _, fn := range g.Files {
					dst = encoding.AppendVarint32(dst, uint32(TagFileInsideFence))
					dst = encoding.AppendVarint64(dst, uint64(fn))
				}
			}
		}
	}

	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, meta := range ve.SentinelFiles[level] {
			dst = appendFileRecord(dst, TagNewSentinelFile, level, meta)
		}
	}
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, fn := range ve.SentinelFileNumbers[level] {
			dst = encoding.AppendVarint32(dst, uint32(TagNewSentinelFileNo))
			dst = encoding.AppendVarint32(dst, uint32(level))
			dst = encoding.AppendVarint64(dst, uint64(fn))
		}
	}

	for _, df := range ve.DeletedSentinelFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedSentinelFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, uint64(df.Number))
	}

	return dst
}

func appendFileRecord(dst []byte, tag Tag, level int, meta *FileMetaData) []byte {
	dst = encoding.AppendVarint32(dst, uint32(tag))
	dst = encoding.AppendVarint32(dst, uint32(level))
	dst = encoding.AppendVarint64(dst, uint64(meta.Number))
	dst = encoding.AppendVarint64(dst, meta.FileSize)
	dst = encoding.AppendLengthPrefixedSlice(dst, meta.Smallest.Encode())
	dst = encoding.AppendLengthPrefixedSlice(dst, meta.Largest.Encode())
	return dst
}

func (ve *VersionEdit) getLevel(r *encoding.Reader) (int, bool) {
	v, ok := r.GetVarint32()
	if !ok || !ve.cfg.ValidLevel(int(v)) {
		return 0, false
	}
	return int(v), true
}

func getInternalKey(r *encoding.Reader) (keys.InternalKey, bool) {
	raw, ok := r.GetLengthPrefixedSlice()
	if !ok {
		return nil, false
	}
	var ik keys.InternalKey
	if !ik.DecodeFrom(raw) {
		return nil, false
	}
	return ik, true
}

// DecodeFrom replaces the edit's contents with the fields decoded from
// src. On error the edit's contents are unspecified and must be
// discarded. Any malformed, truncated, or unrecognized record yields a
// CorruptionError naming the failing field; DecodeFrom never panics on
// untrusted input.
func (ve *VersionEdit) DecodeFrom(src []byte) error {
	ve.Clear()
	r := encoding.NewReader(src)

	for !r.Empty() {
		tagVal, ok := r.GetVarint32()
		if !ok {
			// A clean tag boundary was not found; the trailing bytes
			// are garbage.
			return corruptf("invalid tag")
		}

		switch Tag(tagVal) {
		case TagComparator:
			name, ok := r.GetLengthPrefixedSlice()
			if !ok {
				return corruptf("comparator name")
			}
			ve.Comparator = string(name)
			ve.HasComparator = true

		case TagLogNumber:
			v, ok := r.GetVarint64()
			if !ok {
				return corruptf("log number")
			}
			ve.LogNumber = FileNumber(v)
			ve.HasLogNumber = true

		case TagPrevLogNumber:
			v, ok := r.GetVarint64()
			if !ok {
				return corruptf("previous log number")
			}
			ve.PrevLogNumber = FileNumber(v)
			ve.HasPrevLogNumber = true

		case TagNextFileNumber:
			v, ok := r.GetVarint64()
			if !ok {
				return corruptf("next file number")
			}
			ve.NextFileNumber = FileNumber(v)
			ve.HasNextFileNumber = true

		case TagLastSequence:
			v, ok := r.GetVarint64()
			if !ok {
				return corruptf("last sequence number")
			}
			ve.LastSequence = keys.SequenceNumber(v)
			ve.HasLastSequence = true

		case TagCompactPointer:
			level, ok := ve.getLevel(r)
			if !ok {
				return corruptf("compaction pointer")
			}
			key, ok := getInternalKey(r)
			if !ok {
				return corruptf("compaction pointer")
			}
			ve.CompactPointers = append(ve.CompactPointers, CompactPointer{Level: level, Key: key})

		case TagDeletedFile:
			level, number, ok := ve.getLevelAndNumber(r)
			if !ok {
				return corruptf("deleted file")
			}
			ve.DeletedFiles = insertDeletedFile(ve.DeletedFiles, level, number)

		case TagNewFile:
			entry, ok := ve.getFileRecord(r)
			if !ok {
				return corruptf("new-file entry")
			}
			ve.NewFiles = append(ve.NewFiles, entry)

		case TagDeletedFence:
			level, ok := ve.getLevel(r)
			if !ok {
				return corruptf("deleted fence")
			}
			key, ok := getInternalKey(r)
			if !ok {
				return corruptf("deleted fence")
			}
			ve.DeleteFence(level, key)

		case TagNewFence:
			g, ok := ve.getFenceRecord(r)
			if !ok {
				return corruptf("new-fence entry")
			}
			ve.NewFences[g.Level] = append(ve.NewFences[g.Level], g)

		case TagNewCompleteFence:
			g, ok := ve.getFenceRecord(r)
			if !ok {
				return corruptf("new-complete-fence entry")
			}
			ve.NewCompleteFences[g.Level] = append(ve.NewCompleteFences[g.Level], g)

		case TagNewSentinelFile:
			entry, ok := ve.getFileRecord(r)
			if !ok {
				return corruptf("new-sentinel-file entry")
			}
			ve.SentinelFiles[entry.Level] = append(ve.SentinelFiles[entry.Level], entry.Meta)

		case TagNewSentinelFileNo:
			level, number, ok := ve.getLevelAndNumber(r)
			if !ok {
				return corruptf("sentinel file number")
			}
			ve.SentinelFileNumbers[level] = append(ve.SentinelFileNumbers[level], number)

		case TagDeletedSentinelFile:
			level, number, ok := ve.getLevelAndNumber(r)
			if !ok {
				return corruptf("deleted sentinel file")
			}
			ve.DeletedSentinelFiles = insertDeletedFile(ve.DeletedSentinelFiles, level, number)

		default:
			// TagFileInsideFence is only valid inside a fence record;
			// seeing it here means the stream is inconsistent.
			return corruptf("unknown tag")
		}
	}

	return nil
}

func (ve *VersionEdit) getLevelAndNumber(r *encoding.Reader) (int, FileNumber, bool) {
	level, ok := ve.getLevel(r)
	if !ok {
		return 0, 0, false
	}
	number, ok := r.GetVarint64()
	if !ok {
		return 0, 0, false
	}
	return level, FileNumber(number), true
}

func (ve *VersionEdit) getFileRecord(r *encoding.Reader) (NewFileEntry, bool) {
	level, ok := ve.getLevel(r)
	if !ok {
		return NewFileEntry{}, false
	}
	number, ok := r.GetVarint64()
	if !ok {
		return NewFileEntry{}, false
	}
	size, ok := r.GetVarint64()
	if !ok {
		return NewFileEntry{}, false
	}
	smallest, ok := getInternalKey(r)
	if !ok {
		return NewFileEntry{}, false
	}
	largest, ok := getInternalKey(r)
	if !ok {
		return NewFileEntry{}, false
	}
	meta := NewFileMetaData()
	meta.Number = FileNumber(number)
	meta.FileSize = size
	meta.Smallest = smallest
	meta.Largest = largest
	return NewFileEntry{Level: level, Meta: meta}, true
}

// getFenceRecord decodes the shared fence record body. A segment count
// of zero ends the record after the fence key; a positive count is
// followed by the observed bounds and exactly that many fileInsideFence
// entries.
func (ve *VersionEdit) getFenceRecord(r *encoding.Reader) (*FenceMetaData, bool) {
	level, ok := ve.getLevel(r)
	if !ok {
		return nil, false
	}
	segments, ok := r.GetVarint64()
	if !ok {
		return nil, false
	}
	fenceKey, ok := getInternalKey(r)
	if !ok {
		return nil, false
	}
	g := &FenceMetaData{
		Level:          level,
		FenceKey:       fenceKey,
		NumberSegments: segments,
	}
	if segments == 0 {
		return g, true
	}
	if g.Smallest, ok = getInternalKey(r); !ok {
		return nil, false
	}
	if g.Largest, ok = getInternalKey(r); !ok {
		return nil, false
	}
	g.Files = make([]FileNumber, 0, segments)
	for j := uint64(0); j < segments; j++ {
		tagVal, ok := r.GetVarint32()
		if !ok || Tag(tagVal) != TagFileInsideFence {
			return nil, false
		}
		number, ok := r.GetVarint64()
		if !ok {
			return nil, false
		}
		g.Files = append(g.Files, FileNumber(number))
	}
	return g, true
}

// DebugString renders every present field for diagnostics. The output
// is deterministic but not part of the persisted format.
func (ve *VersionEdit) DebugString() string {
	var b strings.Builder
	b.WriteString("VersionEdit {")
	if ve.HasComparator {
		fmt.Fprintf(&b, "\n  Comparator: %s", ve.Comparator)
	}
	if ve.HasLogNumber {
		fmt.Fprintf(&b, "\n  LogNumber: %d", ve.LogNumber)
	}
	if ve.HasPrevLogNumber {
		fmt.Fprintf(&b, "\n  PrevLogNumber: %d", ve.PrevLogNumber)
	}
	if ve.HasNextFileNumber {
		fmt.Fprintf(&b, "\n  NextFile: %d", ve.NextFileNumber)
	}
	if ve.HasLastSequence {
		fmt.Fprintf(&b, "\n  LastSeq: %d", ve.LastSequence)
	}
	for _, cp := range ve.CompactPointers {
		fmt.Fprintf(&b, "\n  CompactPointer: %d %s", cp.Level, cp.Key)
	}
	for _, df := range ve.DeletedFiles {
		fmt.Fprintf(&b, "\n  RemoveFile: %d %d", df.Level, df.Number)
	}
	for _, nf := range ve.NewFiles {
		fmt.Fprintf(&b, "\n  AddFile: %d %d %d %s .. %s",
			nf.Level, nf.Meta.Number, nf.Meta.FileSize, nf.Meta.Smallest, nf.Meta.Largest)
	}
	for _, dg := range ve.DeletedFences {
		fmt.Fprintf(&b, "\n  DeleteFence: %d %s", dg.Level, dg.FenceKey)
	}
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, g := range ve.NewFences[level] {
			fmt.Fprintf(&b, "\n  AddFence: %d %d %s", g.Level, g.NumberSegments, g.FenceKey)
		}
	}
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, g := range ve.NewCompleteFences[level] {
			fmt.Fprintf(&b, "\n  AddCompleteFence: %d %d %s", g.Level, g.NumberSegments, g.FenceKey)
			if g.NumberSegments > 0 {
				fmt.Fprintf(&b, " %s .. %s Files:", g.Smallest, g.Largest)
				for _, fn := range g.Files {
					fmt.Fprintf(&b, " %d", fn)
				}
			}
		}
	}
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, meta := range ve.SentinelFiles[level] {
			fmt.Fprintf(&b, "\n  AddSentinelFile: %d %d %d %s .. %s",
				level, meta.Number, meta.FileSize, meta.Smallest, meta.Largest)
		}
	}
	for level := 0; level < ve.cfg.NumLevels; level++ {
		for _, fn := range ve.SentinelFileNumbers[level] {
			fmt.Fprintf(&b, "\n  AddSentinelFileNo: %d %d", level, fn)
		}
	}
	for _, df := range ve.DeletedSentinelFiles {
		fmt.Fprintf(&b, "\n  RemoveSentinelFile: %d %d", df.Level, df.Number)
	}
	b.WriteString("\n}\n")
	return b.String()
}
