package sqlite

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
	"slm-core/internal/terms"
)

// BackupManager is C9's snapshot half: it uses SQLite's online backup API
// (via mattn/go-sqlite3's Backup()) to copy the live file to a timestamped
// path without blocking readers, then prunes to the newest N per
// retention (§4.9, §6 backups/memory-YYYYMMDD-HHMMSS.db).
type BackupManager struct {
	db        *sql.DB
	dbPath    string
	backupDir string
}

func NewBackupManager(db *sql.DB, dbPath, backupDir string) *BackupManager {
	return &BackupManager{db: db, dbPath: dbPath, backupDir: backupDir}
}

// Snapshot performs the backup and applies retention, returning the new
// file's path. It accepts a cancellation channel per §5; cancellation
// rolls back to no partial file being left behind.
func (b *BackupManager) Snapshot(cancel <-chan struct{}, retention int) (string, error) {
	if err := os.MkdirAll(b.backupDir, 0o755); err != nil {
		return "", apperrors.IO(err, "create backups dir")
	}
	name := fmt.Sprintf("memory-%s.db", time.Now().UTC().Format("20060102-150405"))
	dest := filepath.Join(b.backupDir, name)

	if err := b.onlineBackup(cancel, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	if err := b.applyRetention(retention); err != nil {
		return dest, err
	}
	return dest, nil
}

func (b *BackupManager) onlineBackup(cancel <-chan struct{}, dest string) error {
	srcConn, err := b.db.Conn(context.Background())
	if err != nil {
		return apperrors.IO(err, "acquire source connection")
	}
	defer srcConn.Close()

	destDB, err := sql.Open("sqlite3", dest)
	if err != nil {
		return apperrors.IO(err, "open backup destination")
	}
	defer destDB.Close()
	destConn, err := destDB.Conn(context.Background())
	if err != nil {
		return apperrors.IO(err, "acquire destination connection")
	}
	defer destConn.Close()

	var backupErr error
	err = srcConn.Raw(func(srcDriver any) error {
		return destConn.Raw(func(destDriver any) error {
			s, ok1 := srcDriver.(*sqlite3.SQLiteConn)
			d, ok2 := destDriver.(*sqlite3.SQLiteConn)
			if !ok1 || !ok2 {
				return apperrors.Internal("unexpected driver connection type")
			}
			bk, err := d.Backup("main", s, "main")
			if err != nil {
				return apperrors.IO(err, "init backup")
			}
			defer bk.Close()
			for {
				select {
				case <-cancel:
					return apperrors.Cancelled("backup cancelled")
				default:
				}
				done, err := bk.Step(64)
				if err != nil {
					backupErr = apperrors.IO(err, "backup step")
					return backupErr
				}
				if done {
					return nil
				}
			}
		})
	})
	if err != nil {
		return err
	}
	return backupErr
}

func (b *BackupManager) applyRetention(retention int) error {
	if retention <= 0 {
		retention = 7
	}
	entries, err := os.ReadDir(b.backupDir)
	if err != nil {
		return apperrors.IO(err, "list backups")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "memory-") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp-named, lexicographic == chronological
	if len(names) <= retention {
		return nil
	}
	toRemove := names[:len(names)-retention]
	for _, n := range toRemove {
		if err := os.Remove(filepath.Join(b.backupDir, n)); err != nil && !os.IsNotExist(err) {
			return apperrors.IO(err, "prune old backup")
		}
	}
	return nil
}

// --- Compression (tier transitions) ---

// Compressor implements the Tier 1→2→3 transitions of §4.9. It is never
// invoked implicitly by reads — only by an explicit maintenance call.
type Compressor struct {
	store *Store
}

func NewCompressor(s *Store) *Compressor { return &Compressor{store: s} }

// CompressionResult reports how many notes moved between tiers.
type CompressionResult struct {
	PromotedToSummary int
	PromotedToArchive int
}

// Run compresses eligible notes in profile as of now. tier2AgeDays/
// tier2IdleDays gate Tier1→2; tier3AgeDays gates Tier2→3. Tier never moves
// backward here (invariant 8); only Restore does that.
func (c *Compressor) Run(profile string, now time.Time, tier2AgeDays, tier2IdleDays, tier3AgeDays int) (CompressionResult, error) {
	var res CompressionResult

	rows, err := c.store.db.Query(`SELECT id, content FROM notes
		WHERE profile = ? AND tier = 1
		AND created_at <= ? AND last_accessed <= ?`,
		profile,
		now.AddDate(0, 0, -tier2AgeDays).UTC().Format(time.RFC3339Nano),
		now.AddDate(0, 0, -tier2IdleDays).UTC().Format(time.RFC3339Nano))
	if err != nil {
		return res, apperrors.IO(err, "select tier1 candidates")
	}
	type cand struct {
		id      int64
		content string
	}
	var tier2Candidates []cand
	for rows.Next() {
		var cc cand
		if err := rows.Scan(&cc.id, &cc.content); err != nil {
			rows.Close()
			return res, apperrors.IO(err, "scan tier1 candidate")
		}
		tier2Candidates = append(tier2Candidates, cc)
	}
	rows.Close()

	for _, cc := range tier2Candidates {
		if err := c.promoteToSummary(profile, cc.id, cc.content, now); err != nil {
			return res, err
		}
		res.PromotedToSummary++
	}

	rows, err = c.store.db.Query(`SELECT id, content FROM notes
		WHERE profile = ? AND tier = 2 AND last_accessed <= ?`,
		profile, now.AddDate(0, 0, -tier3AgeDays).UTC().Format(time.RFC3339Nano))
	if err != nil {
		return res, apperrors.IO(err, "select tier2 candidates")
	}
	var tier3Candidates []cand
	for rows.Next() {
		var cc cand
		if err := rows.Scan(&cc.id, &cc.content); err != nil {
			rows.Close()
			return res, apperrors.IO(err, "scan tier2 candidate")
		}
		tier3Candidates = append(tier3Candidates, cc)
	}
	rows.Close()

	for _, cc := range tier3Candidates {
		if err := c.promoteToArchive(profile, cc.id, cc.content, now); err != nil {
			return res, err
		}
		res.PromotedToArchive++
	}
	return res, nil
}

func (c *Compressor) promoteToSummary(profile string, id int64, content string, now time.Time) error {
	summary := buildSummary(content)
	tx, err := c.store.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin tier2 promotion")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`INSERT OR REPLACE INTO archive_entries
		(original_memory_id, profile, compressed_blob, original_size, compressed_size, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, profile, []byte(content), len(content), len(content), now.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.IO(err, "archive original before summarizing")
	}
	if _, err := tx.Exec(`UPDATE notes SET tier = 2, summary = ? WHERE id = ? AND profile = ?`, summary, id, profile); err != nil {
		return apperrors.IO(err, "promote to tier2")
	}
	return apperrors.Wrap(tx.Commit(), "commit tier2 promotion")
}

func (c *Compressor) promoteToArchive(profile string, id int64, content string, now time.Time) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(content)); err != nil {
		return apperrors.Internal("gzip compress: %v", err)
	}
	if err := gw.Close(); err != nil {
		return apperrors.Internal("gzip close: %v", err)
	}

	tx, err := c.store.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin tier3 promotion")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`INSERT OR REPLACE INTO archive_entries
		(original_memory_id, profile, compressed_blob, original_size, compressed_size, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, profile, buf.Bytes(), len(content), buf.Len(), now.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.IO(err, "write archive blob")
	}
	if _, err := tx.Exec(`UPDATE notes SET tier = 3, content = '' WHERE id = ? AND profile = ?`, id, profile); err != nil {
		return apperrors.IO(err, "promote to tier3")
	}
	return apperrors.Wrap(tx.Commit(), "commit tier3 promotion")
}

// Restore reverses compression for id: tier returns to 1 (the only
// backward tier movement this spec allows) and content is rematerialized
// from the archive (invariant 8: archive(x); restore(x) yields x).
func (c *Compressor) Restore(profile string, id int64) error {
	tx, err := c.store.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin restore")
	}
	defer tx.Rollback() //nolint:errcheck

	var blob []byte
	if err := tx.QueryRow(`SELECT compressed_blob FROM archive_entries WHERE original_memory_id = ?`, id).Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.NotFound("no archive entry for note %d", id)
		}
		return apperrors.IO(err, "read archive entry")
	}
	content, err := decompressMaybe(blob)
	if err != nil {
		return apperrors.Internal("decompress archive: %v", err)
	}
	if _, err := tx.Exec(`UPDATE notes SET tier = 1, content = ?, summary = '' WHERE id = ? AND profile = ?`, content, id, profile); err != nil {
		return apperrors.IO(err, "restore note content")
	}
	return apperrors.Wrap(tx.Commit(), "commit restore")
}

// rematerialize fills n.Content transparently from the archive for a
// tier-3 note being read, without mutating its stored tier (§4.9: "never
// invoked implicitly by search reads" — this path is a plain get(), not a
// search, and does not advance/regress the persisted tier).
func rematerialize(tx *sql.Tx, n *domain.Note) error {
	var blob []byte
	err := tx.QueryRow(`SELECT compressed_blob FROM archive_entries WHERE original_memory_id = ?`, n.ID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return apperrors.IO(err, "read archive for rematerialize")
	}
	content, err := decompressMaybe(blob)
	if err != nil {
		return apperrors.Internal("decompress archive: %v", err)
	}
	n.Content = content
	return nil
}

func decompressMaybe(blob []byte) (string, error) {
	if len(blob) >= 2 && blob[0] == 0x1f && blob[1] == 0x8b {
		gr, err := gzip.NewReader(bytes.NewReader(blob))
		if err != nil {
			return "", err
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return string(blob), nil
}

// buildSummary builds the Tier1→2 summary: first sentence plus the note's
// top terms joined, ranked by raw frequency within the note rather than by
// corpus-wide IDF. promoteToSummary stores it in the summary column and
// leaves the note's content in place; the content is not replaced.
func buildSummary(content string) string {
	first := firstSentence(content)
	top := terms.TopTermsForSummary(content, 5)
	if len(top) == 0 {
		return first
	}
	return first + " [" + strings.Join(top, ", ") + "]"
}

func firstSentence(content string) string {
	content = strings.TrimSpace(content)
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(content[:i+1])
		}
	}
	if len(content) > 200 {
		return content[:200]
	}
	return content
}
