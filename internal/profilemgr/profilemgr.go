// Package profilemgr is the Profile Manager (C8): profiles are
// column-based, not file-based — every core table already carries a
// profile column — so this package only tracks the registry and the
// single active-profile pointer, using an atomic sidecar-pointer idiom
// applied to a local JSON file instead of a remote config store (§4.8).
package profilemgr

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
	"slm-core/internal/persistence/sqlite"
)

var namePattern = regexp.MustCompile(domain.ProfileNamePattern)

// activePointer is the sidecar file's on-disk shape.
type activePointer struct {
	Active string `json:"active"`
}

// Manager is C8.
type Manager struct {
	db          *sql.DB
	store       *sqlite.Store
	backup      *sqlite.BackupManager
	pointerPath string
}

func NewManager(db *sql.DB, store *sqlite.Store, backup *sqlite.BackupManager, pointerPath string) *Manager {
	return &Manager{db: db, store: store, backup: backup, pointerPath: pointerPath}
}

// Active returns the current active profile, defaulting to "default" and
// seeding the sidecar file the first time it's read.
func (m *Manager) Active() (string, error) {
	data, err := os.ReadFile(m.pointerPath)
	if os.IsNotExist(err) {
		if werr := m.writePointer(domain.DefaultProfile); werr != nil {
			return "", werr
		}
		return domain.DefaultProfile, nil
	}
	if err != nil {
		return "", apperrors.IO(err, "read active profile pointer")
	}
	var p activePointer
	if err := json.Unmarshal(data, &p); err != nil {
		return "", apperrors.Internal("corrupt active profile pointer: %v", err)
	}
	if p.Active == "" {
		return domain.DefaultProfile, nil
	}
	return p.Active, nil
}

// Create registers a new profile (§4.8).
func (m *Manager) Create(name, description string) error {
	if !namePattern.MatchString(name) {
		return apperrors.Validation("profile name must match %s", domain.ProfileNamePattern)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := m.db.Exec(`INSERT INTO profiles (name, created_at, description) VALUES (?, ?, ?)`, name, now, description)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("profile %q already exists", name)
		}
		return apperrors.IO(err, "create profile")
	}
	return nil
}

// Switch atomically repoints the active profile (§4.8: "atomic pointer
// update" via filesystem rename).
func (m *Manager) Switch(name string) error {
	var exists int
	if err := m.db.QueryRow(`SELECT count(*) FROM profiles WHERE name = ?`, name).Scan(&exists); err != nil {
		return apperrors.IO(err, "check profile exists")
	}
	if exists == 0 {
		return apperrors.NotFound("profile %q not found", name)
	}
	return m.writePointer(name)
}

func (m *Manager) writePointer(name string) error {
	if err := os.MkdirAll(filepath.Dir(m.pointerPath), 0o755); err != nil {
		return apperrors.IO(err, "create profile pointer dir")
	}
	data, err := json.Marshal(activePointer{Active: name})
	if err != nil {
		return apperrors.Internal("marshal active profile pointer: %v", err)
	}
	tmp := m.pointerPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.IO(err, "write active profile pointer tmp file")
	}
	if err := os.Rename(tmp, m.pointerPath); err != nil {
		return apperrors.IO(err, "rename active profile pointer into place")
	}
	return nil
}

// Delete removes name and all rows scoped to it, forbidden on "default"
// and on the currently active profile, and always preceded by an automatic
// backup (§4.8, §4.9).
func (m *Manager) Delete(cancel <-chan struct{}, name string, retention int) error {
	if name == domain.DefaultProfile {
		return apperrors.Validation("the default profile cannot be deleted")
	}
	active, err := m.Active()
	if err != nil {
		return err
	}
	if name == active {
		return apperrors.Validation("cannot delete the active profile; switch away first")
	}

	if m.backup != nil {
		if _, err := m.backup.Snapshot(cancel, retention); err != nil {
			return apperrors.Wrap(err, "pre-delete backup")
		}
	}

	tx, err := m.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin profile delete")
	}
	defer tx.Rollback() //nolint:errcheck

	tables := []string{"notes", "graph_nodes", "graph_edges", "clusters", "identity_patterns", "archive_entries"}
	for _, t := range tables {
		if _, err := tx.Exec(`DELETE FROM `+t+` WHERE profile = ?`, name); err != nil { //nolint:gosec
			return apperrors.IO(err, "clear "+t+" for deleted profile")
		}
	}
	res, err := tx.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return apperrors.IO(err, "delete profile registry row")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound("profile %q not found", name)
	}
	return apperrors.Wrap(tx.Commit(), "commit profile delete")
}

// List returns every registered profile with its row counts by table
// (§4.8).
func (m *Manager) List() ([]domain.ProfileCounts, error) {
	rows, err := m.db.Query(`SELECT name FROM profiles ORDER BY name`)
	if err != nil {
		return nil, apperrors.IO(err, "list profiles")
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, apperrors.IO(err, "scan profile name")
		}
		names = append(names, n)
	}
	rows.Close()

	out := make([]domain.ProfileCounts, 0, len(names))
	for _, name := range names {
		pc := domain.ProfileCounts{Name: name}
		if err := m.db.QueryRow(`SELECT count(*) FROM notes WHERE profile = ?`, name).Scan(&pc.Notes); err != nil {
			return nil, apperrors.IO(err, "count notes")
		}
		if err := m.db.QueryRow(`SELECT count(*) FROM graph_nodes WHERE profile = ?`, name).Scan(&pc.GraphNodes); err != nil {
			return nil, apperrors.IO(err, "count graph_nodes")
		}
		if err := m.db.QueryRow(`SELECT count(*) FROM graph_edges WHERE profile = ?`, name).Scan(&pc.GraphEdges); err != nil {
			return nil, apperrors.IO(err, "count graph_edges")
		}
		if err := m.db.QueryRow(`SELECT count(*) FROM clusters WHERE profile = ?`, name).Scan(&pc.Clusters); err != nil {
			return nil, apperrors.IO(err, "count clusters")
		}
		if err := m.db.QueryRow(`SELECT count(*) FROM identity_patterns WHERE profile = ?`, name).Scan(&pc.Patterns); err != nil {
			return nil, apperrors.IO(err, "count patterns")
		}
		out = append(out, pc)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
