// Package domain holds the core entities of the memory engine: notes, the
// knowledge graph built over them, identity patterns, and profiles. These
// types carry no persistence or business-rule logic beyond their own
// invariants — that lives in the packages that operate on them.
package domain

import "time"

// Tier is the compression level of a Note's content.
type Tier int

const (
	// TierFull holds the complete, original content.
	TierFull Tier = 1
	// TierSummary holds a generated summary; the original is archived.
	TierSummary Tier = 2
	// TierArchived holds only a pointer; content lives in an ArchiveEntry.
	TierArchived Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierSummary:
		return "summary"
	case TierArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// MemoryType distinguishes how long a Note is expected to remain relevant.
type MemoryType string

const (
	MemoryTypeSession   MemoryType = "session"
	MemoryTypePermanent MemoryType = "permanent"
)

// DefaultProfile is the profile name used when no profile is specified.
const DefaultProfile = "default"

// Note is the primary entity: one user-authored text record with metadata.
// All fields are scoped to Profile; every store operation filters on it.
type Note struct {
	ID          int64
	Profile     string
	Content     string
	Summary     string
	ContentHash string

	Tags        []string
	Category    string
	ProjectName string
	ProjectPath string

	Importance int
	MemoryType MemoryType

	ParentID  *int64
	TreePath  string
	Depth     int

	Tier Tier

	ClusterID *int64

	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Validation bounds shared by the storage layer and the façade.
const (
	MaxContentBytes  = 1 << 20 // 1 MB
	MaxTags          = 50
	MaxProjectName   = 64
	MinImportance    = 1
	MaxImportance    = 10
	DefaultImportance = 5

	// FormatFullThreshold is the length below which format_content always
	// returns the note in full.
	FormatFullThreshold = 5000
	// FormatTruncateLength is how much of the content format_content keeps
	// when the note exceeds FormatFullThreshold and always_full is false.
	FormatTruncateLength = 2000
)

// FormatContent implements the storage engine's display helper (§4.2):
// notes shorter than FormatFullThreshold are returned whole; longer ones are
// truncated to FormatTruncateLength runes unless alwaysFull is requested.
func FormatContent(content string, alwaysFull bool) string {
	runes := []rune(content)
	if alwaysFull || len(runes) < FormatFullThreshold {
		return content
	}
	return string(runes[:FormatTruncateLength]) + "…"
}
