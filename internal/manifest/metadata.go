package manifest

import (
	"fmt"

	"github.com/fencekv/fencekv/internal/keys"
)

// FileNumber identifies a table or log file within the database.
type FileNumber uint64

// FenceID identifies a fence within a version's per-level arena.
type FenceID uint64

// FileMetaData describes a single sorted table file.
type FileMetaData struct {
	// Refs counts the versions referencing this file.
	Refs int

	// AllowedSeeks decays toward zero as reads miss; a file with no
	// remaining seeks becomes a seek-compaction candidate.
	AllowedSeeks int

	Number   FileNumber
	FileSize uint64

	// Smallest and Largest bound every internal key stored in the file.
	Smallest keys.InternalKey
	Largest  keys.InternalKey

	// Fence is the fence this file was assigned to, or zero when the
	// file sits in a level's sentinel slot.
	Fence FenceID
}

// NewFileMetaData returns a FileMetaData with the seek allowance the
// version builder expects for freshly added files.
func NewFileMetaData() *FileMetaData {
	return &FileMetaData{AllowedSeeks: 1 << 30}
}

func (f *FileMetaData) String() string {
	return fmt.Sprintf("%d:%d[%s .. %s]",
		f.Number, f.FileSize, f.Smallest, f.Largest)
}

// FenceMetaData describes one fence: a level partition boundary and the
// files currently assigned to it.
type FenceMetaData struct {
	// Refs counts the versions referencing this fence.
	Refs int

	ID    FenceID
	Level int

	// FenceKey is the user key that defines the partition boundary.
	// Every key in the fence compares >= FenceKey.
	FenceKey keys.InternalKey

	// Smallest and Largest bound the keys across all files in the
	// fence. Only meaningful when NumberSegments > 0.
	Smallest keys.InternalKey
	Largest  keys.InternalKey

	// NumberSegments is the count of files assigned to the fence.
	NumberSegments uint64

	// Files lists the numbers of the files inside the fence.
	Files []FileNumber
}

func (g *FenceMetaData) String() string {
	if g.NumberSegments == 0 {
		return fmt.Sprintf("fence@%s", g.FenceKey)
	}
	return fmt.Sprintf("fence@%s{%d files, [%s .. %s]}",
		g.FenceKey, g.NumberSegments, g.Smallest, g.Largest)
}
