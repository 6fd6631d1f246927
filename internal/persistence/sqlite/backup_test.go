package sqlite

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSnapshotCreatesBackupFile(t *testing.T) {
	db, path := openBackupTestDB(t)
	store := NewStore(db)
	_, err := store.Add(AddParams{Profile: "default", Content: "backed up content"})
	require.NoError(t, err)

	backupDir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(db, path, backupDir)

	dest, err := mgr.Snapshot(make(chan struct{}), 7)
	require.NoError(t, err)

	_, err = os.Stat(dest)
	require.NoError(t, err)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotAppliesRetention(t *testing.T) {
	db, path := openBackupTestDB(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(db, path, backupDir)

	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	for _, name := range []string{
		"memory-20200101-000000.db",
		"memory-20200102-000000.db",
		"memory-20200103-000000.db",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("x"), 0o644))
	}

	require.NoError(t, mgr.applyRetention(2))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.NotContains(t, names, "memory-20200101-000000.db", "oldest backup should be pruned first")
}

func TestSnapshotCancellationLeavesNoPartialFile(t *testing.T) {
	db, path := openBackupTestDB(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(db, path, backupDir)

	cancel := make(chan struct{})
	close(cancel)

	dest, err := mgr.Snapshot(cancel, 7)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompressorRunPromotesTier1ToSummaryWhenOldAndIdle(t *testing.T) {
	db, _ := openBackupTestDB(t)
	store := NewStore(db)
	id, err := store.Add(AddParams{Profile: "default", Content: "This is old content. It should get summarized eventually."})
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -60).UTC().Format(time.RFC3339Nano)
	_, err = db.Exec(`UPDATE notes SET created_at = ?, last_accessed = ? WHERE id = ?`, old, old, id)
	require.NoError(t, err)

	compr := NewCompressor(store)
	res, err := compr.Run("default", time.Now().UTC(), 30, 7, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PromotedToSummary)
	assert.Equal(t, 0, res.PromotedToArchive)

	var tier int
	var summary string
	require.NoError(t, db.QueryRow(`SELECT tier, summary FROM notes WHERE id = ?`, id).Scan(&tier, &summary))
	assert.Equal(t, 2, tier)
	assert.NotEmpty(t, summary)
}

func TestCompressorRunPromotesTier2ToArchiveWhenOld(t *testing.T) {
	db, _ := openBackupTestDB(t)
	store := NewStore(db)
	id, err := store.Add(AddParams{Profile: "default", Content: "ancient content bound for the archive"})
	require.NoError(t, err)

	veryOld := time.Now().AddDate(0, 0, -200).UTC().Format(time.RFC3339Nano)
	_, err = db.Exec(`UPDATE notes SET tier = 2, created_at = ?, last_accessed = ? WHERE id = ?`, veryOld, veryOld, id)
	require.NoError(t, err)

	compr := NewCompressor(store)
	res, err := compr.Run("default", time.Now().UTC(), 30, 7, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PromotedToArchive)

	var tier int
	var content string
	require.NoError(t, db.QueryRow(`SELECT tier, content FROM notes WHERE id = ?`, id).Scan(&tier, &content))
	assert.Equal(t, 3, tier)
	assert.Empty(t, content)
}

func TestCompressorRestoreRematerializesOriginalContent(t *testing.T) {
	db, _ := openBackupTestDB(t)
	store := NewStore(db)
	original := "content that will be archived and restored"
	id, err := store.Add(AddParams{Profile: "default", Content: original})
	require.NoError(t, err)

	veryOld := time.Now().AddDate(0, 0, -200).UTC().Format(time.RFC3339Nano)
	_, err = db.Exec(`UPDATE notes SET tier = 2, created_at = ?, last_accessed = ? WHERE id = ?`, veryOld, veryOld, id)
	require.NoError(t, err)

	compr := NewCompressor(store)
	_, err = compr.Run("default", time.Now().UTC(), 30, 7, 90)
	require.NoError(t, err)

	require.NoError(t, compr.Restore("default", id))

	var tier int
	var content string
	require.NoError(t, db.QueryRow(`SELECT tier, content FROM notes WHERE id = ?`, id).Scan(&tier, &content))
	assert.Equal(t, 1, tier)
	assert.Equal(t, original, content)
}

func TestCompressorRestoreUnknownNoteReturnsNotFound(t *testing.T) {
	db, _ := openBackupTestDB(t)
	store := NewStore(db)
	compr := NewCompressor(store)
	err := compr.Restore("default", 9999)
	require.Error(t, err)
}

func TestGetRematerializesTier3ContentTransparently(t *testing.T) {
	db, _ := openBackupTestDB(t)
	store := NewStore(db)
	original := "tier three content fetched transparently through get"
	id, err := store.Add(AddParams{Profile: "default", Content: original})
	require.NoError(t, err)

	veryOld := time.Now().AddDate(0, 0, -200).UTC().Format(time.RFC3339Nano)
	_, err = db.Exec(`UPDATE notes SET tier = 2, created_at = ?, last_accessed = ? WHERE id = ?`, veryOld, veryOld, id)
	require.NoError(t, err)

	compr := NewCompressor(store)
	_, err = compr.Run("default", time.Now().UTC(), 30, 7, 90)
	require.NoError(t, err)

	got, err := store.Get("default", id)
	require.NoError(t, err)
	assert.Equal(t, original, got.Content, "a tier-3 note's content must be transparently rematerialized on get")

	var storedContent string
	require.NoError(t, db.QueryRow(`SELECT content FROM notes WHERE id = ?`, id).Scan(&storedContent))
	assert.Empty(t, storedContent, "rematerialization must not persist the decompressed content back to the row")
}

func TestBuildSummaryIncludesFirstSentenceAndTopTerms(t *testing.T) {
	summary := buildSummary("Kubernetes deployment pipelines are great. They automate everything.")
	assert.Contains(t, summary, "Kubernetes deployment pipelines are great.")
	assert.Contains(t, summary, "[automate, deployment, everything, great, kubernetes]")
}

func TestFirstSentenceFallsBackToTruncationWithoutPunctuation(t *testing.T) {
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'a'
	}
	got := firstSentence(string(long))
	assert.Len(t, got, 200)
}

func TestDecompressMaybeHandlesPlainAndGzippedBlobs(t *testing.T) {
	plain, err := decompressMaybe([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err = gw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	unzipped, err := decompressMaybe(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hello", unzipped)
}
