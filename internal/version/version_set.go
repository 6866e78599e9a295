package version

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fencekv/fencekv/internal/compression"
	"github.com/fencekv/fencekv/internal/config"
	"github.com/fencekv/fencekv/internal/keys"
	"github.com/fencekv/fencekv/internal/logging"
	"github.com/fencekv/fencekv/internal/manifest"
	"github.com/fencekv/fencekv/internal/vfs"
	"github.com/fencekv/fencekv/internal/wal"
)

// Errors returned by VersionSet operations.
var (
	ErrNoCurrentManifest  = errors.New("version: no CURRENT file")
	ErrInvalidManifest    = errors.New("version: invalid manifest")
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
	ErrIncompleteManifest = errors.New("version: manifest missing required fields")
)

// Options configures a VersionSet.
type Options struct {
	// DirPath is the database directory.
	DirPath string

	// FS is the filesystem the MANIFEST and CURRENT files live on.
	// Defaults to the OS filesystem.
	FS vfs.FS

	// Config carries the level count and fence schedule.
	Config config.Config

	// Comparator orders fence keys and file bounds. Its name is
	// persisted in the MANIFEST and validated on recovery.
	Comparator *keys.InternalKeyComparator

	// Codec compresses MANIFEST log payloads.
	Codec compression.Type

	// Logger receives structured progress and recovery messages.
	Logger logging.Logger
}

// VersionSet owns the chain of versions, the MANIFEST writer, and the
// CURRENT pointer file.
type VersionSet struct {
	mu sync.Mutex

	// listMu protects the version linked list separately from mu so
	// Version.Unref can run while mu is held.
	listMu sync.Mutex

	opts   Options
	cfg    config.Config
	cmp    *keys.InternalKeyComparator
	logger logging.Logger

	current       *Version
	dummyVersions Version

	nextFileNumber     uint64
	fenceIDCounter     uint64
	manifestFileNumber manifest.FileNumber
	lastSequence       uint64
	logNumber          manifest.FileNumber
	prevLogNumber      manifest.FileNumber

	versionNumber uint64

	manifestFile   vfs.WritableFile
	manifestWriter *wal.Writer
}

// NewVersionSet creates a VersionSet. It performs no I/O; call Create
// for a fresh database or Recover for an existing one.
func NewVersionSet(opts Options) *VersionSet {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	if opts.Config.NumLevels == 0 {
		opts.Config = config.Default()
	}
	if opts.Comparator == nil {
		opts.Comparator = keys.DefaultComparator
	}
	vs := &VersionSet{
		opts:           opts,
		cfg:            opts.Config,
		cmp:            opts.Comparator,
		logger:         logging.OrDefault(opts.Logger),
		nextFileNumber: 2, // 1 is reserved for the first MANIFEST
	}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	return vs
}

// Current returns the current version. Callers that hold on to it must
// Ref it.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NextFileNumber allocates a new file number.
func (vs *VersionSet) NextFileNumber() manifest.FileNumber {
	return manifest.FileNumber(atomic.AddUint64(&vs.nextFileNumber, 1) - 1)
}

func (vs *VersionSet) nextVersionNumber() uint64 {
	return atomic.AddUint64(&vs.versionNumber, 1)
}

func (vs *VersionSet) nextFenceID() manifest.FenceID {
	return manifest.FenceID(atomic.AddUint64(&vs.fenceIDCounter, 1))
}

// LastSequence returns the last published sequence number.
func (vs *VersionSet) LastSequence() keys.SequenceNumber {
	return keys.SequenceNumber(atomic.LoadUint64(&vs.lastSequence))
}

// SetLastSequence publishes a new last sequence number.
func (vs *VersionSet) SetLastSequence(seq keys.SequenceNumber) {
	atomic.StoreUint64(&vs.lastSequence, uint64(seq))
}

// LogNumber returns the current write-ahead log number.
func (vs *VersionSet) LogNumber() manifest.FileNumber {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logNumber
}

// ManifestFileNumber returns the number of the active MANIFEST.
func (vs *VersionSet) ManifestFileNumber() manifest.FileNumber {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFileNumber
}

// NumLiveVersions counts the versions still referenced.
func (vs *VersionSet) NumLiveVersions() int {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	count := 0
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		count++
	}
	return count
}

// Create initializes a fresh database: an empty version, a new
// MANIFEST holding the bootstrap edit, and a CURRENT file pointing at
// it.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if err := vs.opts.FS.MkdirAll(vs.opts.DirPath, 0o755); err != nil {
		return err
	}

	vs.current = newVersion(vs, vs.cfg, vs.cmp, vs.nextVersionNumber())
	vs.current.Ref()
	vs.appendVersion(vs.current)

	edit := manifest.NewVersionEdit(vs.cfg, vs.cmp)
	edit.SetComparatorName(vs.cmp.Name())
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(manifest.FileNumber(atomic.LoadUint64(&vs.nextFileNumber)))
	edit.SetLastSequence(0)

	if err := vs.writeEditLocked(edit); err != nil {
		return err
	}
	vs.logger.Infof(logging.NSManifest+"created database at %s (manifest %d)",
		vs.opts.DirPath, vs.manifestFileNumber)
	return nil
}

// LogAndApply applies an edit to the current version, durably appends
// it to the MANIFEST, and installs the resulting version.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	builder := NewBuilder(vs, vs.current)
	if err := builder.Apply(edit); err != nil {
		return err
	}
	next := builder.SaveTo(vs)

	// Persist the allocator watermark with every edit so recovery never
	// reuses a file number.
	edit.SetNextFileNumber(manifest.FileNumber(atomic.LoadUint64(&vs.nextFileNumber)))

	if err := vs.writeEditLocked(edit); err != nil {
		return err
	}

	if edit.HasLogNumber {
		vs.logNumber = edit.LogNumber
	}
	if edit.HasPrevLogNumber {
		vs.prevLogNumber = edit.PrevLogNumber
	}
	if edit.HasLastSequence {
		atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
	}

	vs.appendVersion(next)
	next.Ref()
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = next

	return nil
}

// writeEditLocked appends an encoded edit to the MANIFEST, creating
// the MANIFEST (with a state snapshot) and updating CURRENT on first
// use. Caller holds mu.
func (vs *VersionSet) writeEditLocked(edit *manifest.VersionEdit) error {
	newManifest := false
	if vs.manifestWriter == nil {
		num := vs.NextFileNumber()
		file, err := vs.opts.FS.Create(vs.manifestPath(num))
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file, uint64(num), vs.opts.Codec)
		vs.manifestFileNumber = num
		newManifest = true

		if vs.current != nil && vs.current.TotalFiles() > 0 {
			snapshot := vs.snapshotEdit()
			if _, err := vs.manifestWriter.AddRecord(snapshot.EncodeTo()); err != nil {
				return err
			}
		}
	}

	if _, err := vs.manifestWriter.AddRecord(edit.EncodeTo()); err != nil {
		return err
	}

	// Sync the MANIFEST before CURRENT points at it.
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}

	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}
	return nil
}

// snapshotEdit captures the current state as a single edit: scalars,
// every routed file, complete fences, and sentinel files.
func (vs *VersionSet) snapshotEdit() *manifest.VersionEdit {
	edit := manifest.NewVersionEdit(vs.cfg, vs.cmp)
	edit.SetComparatorName(vs.cmp.Name())
	edit.SetLogNumber(vs.logNumber)
	edit.SetNextFileNumber(manifest.FileNumber(atomic.LoadUint64(&vs.nextFileNumber)))
	edit.SetLastSequence(vs.LastSequence())

	if vs.current == nil {
		return edit
	}
	for level := 0; level < vs.cfg.NumLevels; level++ {
		for _, g := range vs.current.fences[level] {
			for _, num := range g.Files {
				if f := vs.current.files[num]; f != nil {
					edit.AddFile(level, f.Number, f.FileSize, f.Smallest, f.Largest)
				}
			}
			edit.AddCompleteFence(level, g)
		}
		for _, f := range vs.current.sentinels[level] {
			edit.AddSentinelFile(level, f)
		}
	}
	return edit
}

// strictReporter records the first corruption seen while reading the
// MANIFEST. Manifest corruption is always fatal: unlike data logs, a
// damaged record here means the metadata cannot be trusted.
type strictReporter struct {
	err error
}

func (r *strictReporter) Corruption(bytes int, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %d bytes: %v", ErrInvalidManifest, bytes, err)
	}
}

// Recover reads CURRENT, replays every edit in the active MANIFEST,
// and installs the recovered version.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	manifestNum, err := vs.readCurrentFile()
	if err != nil {
		return err
	}

	file, err := vs.opts.FS.Open(vs.manifestPath(manifestNum))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	builder := NewBuilder(vs, nil)
	reporter := &strictReporter{}
	reader := wal.NewReader(file, reporter, true)

	var (
		hasLogNumber      bool
		hasNextFileNumber bool
		hasLastSequence   bool
		edits             int
	)
	// Never hand out a file number at or below one seen in the
	// MANIFEST, even when the persisted watermark is stale.
	maxFileNumSeen := uint64(manifestNum)

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("manifest read: %w", err)
		}
		if reporter.err != nil {
			return reporter.err
		}

		edit := manifest.NewVersionEdit(vs.cfg, vs.cmp)
		if err := edit.DecodeFrom(record); err != nil {
			return fmt.Errorf("manifest decode: %w", err)
		}
		if err := builder.Apply(edit); err != nil {
			return err
		}
		edits++

		for _, nf := range edit.NewFiles {
			if num := uint64(nf.Meta.Number); num > maxFileNumSeen {
				maxFileNumSeen = num
			}
		}
		if edit.HasComparator && edit.Comparator != vs.cmp.Name() {
			return fmt.Errorf("%w: manifest has %q, opening with %q",
				ErrComparatorMismatch, edit.Comparator, vs.cmp.Name())
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
			if uint64(edit.LogNumber) > maxFileNumSeen {
				maxFileNumSeen = uint64(edit.LogNumber)
			}
		}
		if edit.HasPrevLogNumber {
			vs.prevLogNumber = edit.PrevLogNumber
			if uint64(edit.PrevLogNumber) > maxFileNumSeen {
				maxFileNumSeen = uint64(edit.PrevLogNumber)
			}
		}
		if edit.HasNextFileNumber {
			hasNextFileNumber = true
			atomic.StoreUint64(&vs.nextFileNumber, uint64(edit.NextFileNumber))
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
		}
	}
	if reporter.err != nil {
		return reporter.err
	}

	if !hasLogNumber || !hasLastSequence {
		return ErrIncompleteManifest
	}
	if !hasNextFileNumber {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}
	if n := atomic.LoadUint64(&vs.nextFileNumber); n <= maxFileNumSeen {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}

	vs.manifestFileNumber = manifestNum
	vs.current = builder.SaveTo(vs)
	vs.current.Ref()
	vs.appendVersion(vs.current)

	vs.logger.Infof(logging.NSRecovery+"recovered manifest %d: %d edits, %d files, last sequence %d",
		manifestNum, edits, vs.current.TotalFiles(), vs.LastSequence())
	return nil
}

// readCurrentFile parses the CURRENT file and returns the MANIFEST
// number it points at.
func (vs *VersionSet) readCurrentFile() (manifest.FileNumber, error) {
	file, err := vs.opts.FS.Open(filepath.Join(vs.opts.DirPath, "CURRENT"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoCurrentManifest
		}
		return 0, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return 0, err
	}
	name := strings.TrimSpace(string(data))
	if !strings.HasPrefix(name, "MANIFEST-") {
		return 0, ErrInvalidManifest
	}
	num, err := strconv.ParseUint(name[len("MANIFEST-"):], 10, 64)
	if err != nil {
		return 0, ErrInvalidManifest
	}
	return manifest.FileNumber(num), nil
}

// setCurrentFile atomically points CURRENT at a MANIFEST: write a temp
// file, sync it, rename over CURRENT, sync the directory.
func (vs *VersionSet) setCurrentFile(num manifest.FileNumber) error {
	tempPath := filepath.Join(vs.opts.DirPath, "CURRENT.tmp")
	currentPath := filepath.Join(vs.opts.DirPath, "CURRENT")

	temp, err := vs.opts.FS.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create CURRENT.tmp: %w", err)
	}
	content := fmt.Sprintf("MANIFEST-%06d\n", num)
	if _, err := temp.Write([]byte(content)); err != nil {
		_ = temp.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("write CURRENT.tmp: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("sync CURRENT.tmp: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("close CURRENT.tmp: %w", err)
	}
	if err := vs.opts.FS.Rename(tempPath, currentPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("rename CURRENT: %w", err)
	}
	return vs.opts.FS.SyncDir(vs.opts.DirPath)
}

func (vs *VersionSet) manifestPath(num manifest.FileNumber) string {
	return filepath.Join(vs.opts.DirPath, fmt.Sprintf("MANIFEST-%06d", num))
}

func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

// Close releases the MANIFEST writer.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile != nil {
		if err := vs.manifestFile.Close(); err != nil {
			return err
		}
		vs.manifestFile = nil
		vs.manifestWriter = nil
	}
	return nil
}
