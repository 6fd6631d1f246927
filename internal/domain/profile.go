package domain

import "time"

// ProfileInfo is one entry of the ProfileRegistry: a named, isolated
// logical memory living in the same database file (§3, §4.8).
type ProfileInfo struct {
	Name        string
	CreatedAt   time.Time
	Description string
}

// ProfileNamePattern is the accepted shape for a profile name, enforced by
// Profile Manager's create().
const ProfileNamePattern = `^[a-z0-9-]{1,64}$`

// ProfileCounts reports per-table row counts for one profile, used by
// profile list().
type ProfileCounts struct {
	Name        string
	Notes       int
	GraphNodes  int
	GraphEdges  int
	Clusters    int
	Patterns    int
}

// ArchiveEntry holds the compressed blob for a tier-3 Note (§3, §4.9).
type ArchiveEntry struct {
	OriginalMemoryID int64
	CompressedBlob   []byte
	OriginalSize     int
	CompressedSize   int
	ArchivedAt       time.Time
}

// StorageStats is the result of the storage engine's stats() operation.
type StorageStats struct {
	Profile        string
	TotalNotes     int
	ByCategory     map[string]int
	ByProject      map[string]int
	ByTier         map[Tier]int
	DBSizeBytes    int64
	LastBackup     *time.Time
}
