// Package manifest implements the version-edit record protocol: the
// tag-encoded, append-only format describing incremental changes to the
// engine's file and fence metadata. Encoded edits form the persistent
// manifest stream and are replayed during recovery.
package manifest

// Tag identifies a serialized VersionEdit field. Tag values are written
// to disk and must never change or be reused.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagCompactPointer Tag = 5
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7
	// Tag 8 is permanently retired (was large value refs).
	TagPrevLogNumber       Tag = 9
	TagNewFence            Tag = 10
	TagDeletedFence        Tag = 11
	TagFileInsideFence     Tag = 12
	TagNewSentinelFile     Tag = 13
	TagDeletedSentinelFile Tag = 14
	TagNewCompleteFence    Tag = 15
	TagNewSentinelFileNo   Tag = 16
)

// String returns the tag's name for diagnostics.
func (t Tag) String() string {
	switch t {
	case TagComparator:
		return "Comparator"
	case TagLogNumber:
		return "LogNumber"
	case TagNextFileNumber:
		return "NextFileNumber"
	case TagLastSequence:
		return "LastSequence"
	case TagCompactPointer:
		return "CompactPointer"
	case TagDeletedFile:
		return "DeletedFile"
	case TagNewFile:
		return "NewFile"
	case TagPrevLogNumber:
		return "PrevLogNumber"
	case TagNewFence:
		return "NewFence"
	case TagDeletedFence:
		return "DeletedFence"
	case TagFileInsideFence:
		return "FileInsideFence"
	case TagNewSentinelFile:
		return "NewSentinelFile"
	case TagDeletedSentinelFile:
		return "DeletedSentinelFile"
	case TagNewCompleteFence:
		return "NewCompleteFence"
	case TagNewSentinelFileNo:
		return "NewSentinelFileNo"
	default:
		return "Unknown"
	}
}
