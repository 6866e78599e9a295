package vfs

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
)

// MemFS is an in-memory FS for tests. All operations are safe for
// concurrent use.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFile)}
}

type memFile struct {
	mu   sync.Mutex
	data []byte
}

// memWritableFile appends to a memFile.
type memWritableFile struct {
	f      *memFile
	closed bool
}

func (w *memWritableFile) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	w.f.mu.Lock()
	w.f.data = append(w.f.data, p...)
	w.f.mu.Unlock()
	return len(p), nil
}

func (w *memWritableFile) Sync() error {
	if w.closed {
		return os.ErrClosed
	}
	return nil
}

func (w *memWritableFile) Close() error {
	w.closed = true
	return nil
}

// memSequentialFile reads a snapshot of a memFile's contents.
type memSequentialFile struct {
	r *bytes.Reader
}

func (r *memSequentialFile) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *memSequentialFile) Close() error               { return nil }

func (fs *MemFS) Create(name string) (WritableFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &memFile{}
	fs.files[path.Clean(name)] = f
	return &memWritableFile{f: f}, nil
}

func (fs *MemFS) Open(name string) (SequentialFile, error) {
	fs.mu.Lock()
	f, ok := fs.files[path.Clean(name)]
	fs.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	f.mu.Lock()
	snapshot := make([]byte, len(f.data))
	copy(snapshot, f.data)
	f.mu.Unlock()
	return &memSequentialFile{r: bytes.NewReader(snapshot)}, nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[path.Clean(oldname)]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	delete(fs.files, path.Clean(oldname))
	fs.files[path.Clean(newname)] = f
	return nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[path.Clean(name)]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, path.Clean(name))
	return nil
}

func (fs *MemFS) MkdirAll(string, os.FileMode) error { return nil }

func (fs *MemFS) Exists(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[path.Clean(name)]
	return ok
}

func (fs *MemFS) ListDir(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir = path.Clean(dir)
	var names []string
	for name := range fs.files {
		if path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) SyncDir(string) error { return nil }

// ReadFile returns the full contents of a file. Test helper.
func (fs *MemFS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	f, ok := fs.files[path.Clean(name)]
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("vfs: no such file %q", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}
