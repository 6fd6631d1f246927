package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
)

// TreeManager is C3: parent/child links, path/depth maintenance, and
// ancestor/descendant/sibling queries over the materialized tree_path.
type TreeManager struct {
	db *sql.DB
}

func NewTreeManager(db *sql.DB) *TreeManager { return &TreeManager{db: db} }

// Reparent moves node id under newParentID (or to the root when nil),
// rewriting the subtree's paths/depths in one transaction via a
// LIKE-prefix update on the materialized path. Rejects cycles: newParentID
// must not be a descendant of id (§4.3).
func (t *TreeManager) Reparent(profile string, id int64, newParentID *int64) error {
	tx, err := t.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin reparent")
	}
	defer tx.Rollback() //nolint:errcheck

	var oldPath string
	var oldDepth int
	if err := tx.QueryRow(`SELECT tree_path, depth FROM notes WHERE id = ? AND profile = ?`, id, profile).Scan(&oldPath, &oldDepth); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.NotFound("note %d not found", id)
		}
		return apperrors.IO(err, "lookup node")
	}

	newPath := "/"
	newDepth := 0
	if newParentID != nil {
		if *newParentID == id {
			return apperrors.Validation("a note cannot be its own parent")
		}
		var parentPath string
		var parentDepth int
		if err := tx.QueryRow(`SELECT tree_path, depth FROM notes WHERE id = ? AND profile = ?`, *newParentID, profile).Scan(&parentPath, &parentDepth); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.NotFound("parent note %d not found", *newParentID)
			}
			return apperrors.IO(err, "lookup new parent")
		}
		// Cycle check: the new parent must not be within the descendants
		// of id — i.e. its path must not contain "/<id>/".
		if strings.Contains(parentPath, fmt.Sprintf("/%d/", id)) {
			return apperrors.Validation("cannot reparent note %d under its own descendant %d", id, *newParentID)
		}
		newPath = parentPath
		newDepth = parentDepth + 1
	}
	finalPath := newPath + strconv.FormatInt(id, 10) + "/"
	depthDelta := newDepth - oldDepth

	if _, err := tx.Exec(`UPDATE notes SET parent_id = ? WHERE id = ? AND profile = ?`, nullableInt64(newParentID), id, profile); err != nil {
		return apperrors.IO(err, "update parent_id")
	}

	// Rewrite this node and every descendant: replace the old path prefix
	// with the new one, and shift depth by the same delta for all of them.
	rows, err := tx.Query(`SELECT id, tree_path, depth FROM notes WHERE profile = ? AND (tree_path = ? OR tree_path LIKE ?)`,
		profile, oldPath+strconv.FormatInt(id, 10)+"/", oldPath+strconv.FormatInt(id, 10)+"/%")
	if err != nil {
		return apperrors.IO(err, "select subtree")
	}
	type row struct {
		id   int64
		path string
		dep  int
	}
	var subtree []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.dep); err != nil {
			rows.Close()
			return apperrors.IO(err, "scan subtree row")
		}
		subtree = append(subtree, r)
	}
	rows.Close()

	oldPrefix := oldPath + strconv.FormatInt(id, 10) + "/"
	for _, r := range subtree {
		rewritten := finalPath + strings.TrimPrefix(r.path, oldPrefix)
		if _, err := tx.Exec(`UPDATE notes SET tree_path = ?, depth = ? WHERE id = ?`, rewritten, r.dep+depthDelta, r.id); err != nil {
			return apperrors.IO(err, "rewrite subtree node")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.IO(err, "commit reparent")
	}
	return nil
}

// Ancestors returns the chain from root to the immediate parent of id,
// nearest ancestor last.
func (t *TreeManager) Ancestors(profile string, id int64) ([]domain.Note, error) {
	var path string
	if err := t.db.QueryRow(`SELECT tree_path FROM notes WHERE id = ? AND profile = ?`, id, profile).Scan(&path); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("note %d not found", id)
		}
		return nil, apperrors.IO(err, "lookup node path")
	}
	ids := pathIDs(path)
	if len(ids) == 0 {
		return nil, nil
	}
	ids = ids[:len(ids)-1] // drop self
	return t.fetchOrdered(profile, ids)
}

// Descendants returns every node whose path is prefixed by id's path,
// excluding id itself.
func (t *TreeManager) Descendants(profile string, id int64) ([]domain.Note, error) {
	var path string
	if err := t.db.QueryRow(`SELECT tree_path FROM notes WHERE id = ? AND profile = ?`, id, profile).Scan(&path); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("note %d not found", id)
		}
		return nil, apperrors.IO(err, "lookup node path")
	}
	rows, err := t.db.Query(`SELECT `+noteColumns+` FROM notes WHERE profile = ? AND tree_path LIKE ?`, profile, path+"%")
	if err != nil {
		return nil, apperrors.IO(err, "select descendants")
	}
	defer rows.Close()
	var out []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperrors.IO(err, "scan descendant")
		}
		if n.ID == id {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Siblings returns notes sharing id's parent, excluding id itself.
func (t *TreeManager) Siblings(profile string, id int64) ([]domain.Note, error) {
	var parentID sql.NullInt64
	if err := t.db.QueryRow(`SELECT parent_id FROM notes WHERE id = ? AND profile = ?`, id, profile).Scan(&parentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("note %d not found", id)
		}
		return nil, apperrors.IO(err, "lookup node parent")
	}
	var rows *sql.Rows
	var err error
	if parentID.Valid {
		rows, err = t.db.Query(`SELECT `+noteColumns+` FROM notes WHERE profile = ? AND parent_id = ? AND id != ?`, profile, parentID.Int64, id)
	} else {
		rows, err = t.db.Query(`SELECT `+noteColumns+` FROM notes WHERE profile = ? AND parent_id IS NULL AND id != ?`, profile, id)
	}
	if err != nil {
		return nil, apperrors.IO(err, "select siblings")
	}
	defer rows.Close()
	var out []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperrors.IO(err, "scan sibling")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *TreeManager) fetchOrdered(profile string, ids []int64) ([]domain.Note, error) {
	out := make([]domain.Note, 0, len(ids))
	for _, id := range ids {
		var n domain.Note
		row := t.db.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ? AND profile = ?`, id, profile)
		var err error
		n, err = scanNote(row)
		if err != nil {
			return nil, apperrors.IO(err, "scan ancestor")
		}
		out = append(out, n)
	}
	return out, nil
}

// pathIDs parses "/5/7/9/" into [5,7,9].
func pathIDs(path string) []int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var ids []int64
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}
