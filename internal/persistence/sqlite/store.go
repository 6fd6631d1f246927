package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
)

// Store is the Storage Engine (C2): transactional CRUD, tag/project
// metadata, dedup by content hash, FTS-backed keyword search, tier
// transitions, and stats — every operation scoped to a profile.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for callers (tree manager, backup) that
// live in sibling packages but share the same connection pool.
func (s *Store) DB() *sql.DB { return s.db }

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AddParams is the validated input to Add.
type AddParams struct {
	Profile     string
	Content     string
	Tags        []string
	Category    string
	ProjectName string
	ProjectPath string
	Importance  int
	MemoryType  domain.MemoryType
	ParentID    *int64
}

// Add validates and inserts content (§4.2). A re-insert of the same
// (profile, content_hash) returns the existing id and bumps last_accessed
// instead of duplicating the row (invariant 1, 10).
func (s *Store) Add(p AddParams) (int64, error) {
	if err := validateAdd(p); err != nil {
		return 0, err
	}
	if p.Profile == "" {
		p.Profile = domain.DefaultProfile
	}
	if p.Importance == 0 {
		p.Importance = domain.DefaultImportance
	}
	if p.MemoryType == "" {
		p.MemoryType = domain.MemoryTypeSession
	}
	hash := contentHash(p.Content)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, apperrors.IO(err, "begin add")
	}
	defer tx.Rollback() //nolint:errcheck

	var existingID int64
	err = tx.QueryRow(`SELECT id FROM notes WHERE profile = ? AND content_hash = ?`, p.Profile, hash).Scan(&existingID)
	switch {
	case err == nil:
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.Exec(`UPDATE notes SET last_accessed = ? WHERE id = ?`, now, existingID); err != nil {
			return 0, apperrors.IO(err, "bump last_accessed on dedup")
		}
		if err := tx.Commit(); err != nil {
			return 0, apperrors.IO(err, "commit dedup")
		}
		return existingID, nil
	case err != sql.ErrNoRows:
		return 0, apperrors.IO(err, "dedup lookup")
	}

	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return 0, apperrors.Internal("marshal tags: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	treePath := "/"
	depth := 0
	if p.ParentID != nil {
		var parentPath string
		var parentDepth int
		var parentProfile string
		err := tx.QueryRow(`SELECT tree_path, depth, profile FROM notes WHERE id = ?`, *p.ParentID).Scan(&parentPath, &parentDepth, &parentProfile)
		if err == sql.ErrNoRows {
			return 0, apperrors.NotFound("parent note %d not found", *p.ParentID)
		}
		if err != nil {
			return 0, apperrors.IO(err, "lookup parent")
		}
		if parentProfile != p.Profile {
			return 0, apperrors.Validation("parent note %d belongs to a different profile", *p.ParentID)
		}
		depth = parentDepth + 1
		treePath = parentPath // finalized below once we know our own id
	}

	res, err := tx.Exec(`INSERT INTO notes
		(profile, content, summary, content_hash, tags, category, project_name, project_path,
		 importance, memory_type, parent_id, tree_path, depth, tier, created_at, last_accessed, access_count)
		VALUES (?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, 0)`,
		p.Profile, p.Content, hash, string(tagsJSON), p.Category, p.ProjectName, p.ProjectPath,
		p.Importance, string(p.MemoryType), nullableInt64(p.ParentID), treePath, depth, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.Integrity("concurrent duplicate insert for same content_hash")
		}
		return 0, apperrors.IO(err, "insert note")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.IO(err, "read last insert id")
	}

	// Finalize the materialized path now that the id is known (§4.3).
	finalPath := treePath + fmt.Sprintf("%d/", id)
	if _, err := tx.Exec(`UPDATE notes SET tree_path = ? WHERE id = ?`, finalPath, id); err != nil {
		return 0, apperrors.IO(err, "finalize tree_path")
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.IO(err, "commit add")
	}
	return id, nil
}

func validateAdd(p AddParams) error {
	if strings.TrimSpace(p.Content) == "" {
		return apperrors.Validation("content must not be empty")
	}
	if len(p.Content) > domain.MaxContentBytes {
		return apperrors.Validation("content exceeds %d bytes", domain.MaxContentBytes)
	}
	if p.Importance != 0 && (p.Importance < domain.MinImportance || p.Importance > domain.MaxImportance) {
		return apperrors.Validation("importance must be in [%d,%d]", domain.MinImportance, domain.MaxImportance)
	}
	if len(p.Tags) > domain.MaxTags {
		return apperrors.Validation("at most %d tags allowed", domain.MaxTags)
	}
	if len(p.ProjectName) > domain.MaxProjectName {
		return apperrors.Validation("project name exceeds %d chars", domain.MaxProjectName)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

const noteColumns = `id, profile, content, summary, content_hash, tags, category, project_name, project_path,
	importance, memory_type, parent_id, tree_path, depth, tier, cluster_id, created_at, last_accessed, access_count`

func scanNote(row interface{ Scan(...any) error }) (domain.Note, error) {
	var n domain.Note
	var tagsJSON string
	var parentID, clusterID sql.NullInt64
	var memType string
	var created, accessed string
	err := row.Scan(&n.ID, &n.Profile, &n.Content, &n.Summary, &n.ContentHash, &tagsJSON, &n.Category,
		&n.ProjectName, &n.ProjectPath, &n.Importance, &memType, &parentID, &n.TreePath, &n.Depth,
		&n.Tier, &clusterID, &created, &accessed, &n.AccessCount)
	if err != nil {
		return n, err
	}
	n.MemoryType = domain.MemoryType(memType)
	if parentID.Valid {
		v := parentID.Int64
		n.ParentID = &v
	}
	if clusterID.Valid {
		v := clusterID.Int64
		n.ClusterID = &v
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		n.Tags = nil
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	n.LastAccessed, _ = time.Parse(time.RFC3339Nano, accessed)
	return n, nil
}

// Get returns a Note by id, bumping access_count/last_accessed in the
// same transaction (§4.2).
func (s *Store) Get(profile string, id int64) (domain.Note, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.Note{}, apperrors.IO(err, "begin get")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ? AND profile = ?`, id, profile)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return domain.Note{}, apperrors.NotFound("note %d not found", id)
	}
	if err != nil {
		return domain.Note{}, apperrors.IO(err, "scan note")
	}

	if n.Tier == domain.TierArchived {
		if err := rematerialize(tx, &n); err != nil {
			return domain.Note{}, err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`UPDATE notes SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`, now, id); err != nil {
		return domain.Note{}, apperrors.IO(err, "bump access")
	}
	n.AccessCount++
	n.LastAccessed, _ = time.Parse(time.RFC3339Nano, now)

	if err := tx.Commit(); err != nil {
		return domain.Note{}, apperrors.IO(err, "commit get")
	}
	return n, nil
}

// Delete removes a note and cascades to GraphNode/GraphEdge rows involving
// it, PatternExample rows, and any ArchiveEntry (§4.2).
func (s *Store) Delete(profile string, id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin delete")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM notes WHERE id = ? AND profile = ?`, id, profile)
	if err != nil {
		return apperrors.IO(err, "delete note")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound("note %d not found", id)
	}
	if _, err := tx.Exec(`DELETE FROM graph_nodes WHERE memory_id = ? AND profile = ?`, id, profile); err != nil {
		return apperrors.IO(err, "cascade graph_nodes")
	}
	if _, err := tx.Exec(`DELETE FROM graph_edges WHERE profile = ? AND (source_memory_id = ? OR target_memory_id = ?)`, profile, id, id); err != nil {
		return apperrors.IO(err, "cascade graph_edges")
	}
	if _, err := tx.Exec(`DELETE FROM pattern_examples WHERE memory_id = ?`, id); err != nil {
		return apperrors.IO(err, "cascade pattern_examples")
	}
	if _, err := tx.Exec(`DELETE FROM archive_entries WHERE original_memory_id = ?`, id); err != nil {
		return apperrors.IO(err, "cascade archive_entries")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.IO(err, "commit delete")
	}
	return nil
}

// KeywordFilters narrows SearchKeyword; List takes no filters.
type KeywordFilters struct {
	Tags          []string
	Project       string
	Category      string
	MinImportance int
}

// KeywordHit pairs a Note with its BM25-derived score.
type KeywordHit struct {
	Note  domain.Note
	Score float64
}

// SearchKeyword runs the FTS5 query, returning results ranked by BM25
// (lower sqlite bm25() is better; we negate and scale to a positive score)
// (§4.2, §4.6).
func (s *Store) SearchKeyword(profile, query string, limit int, f KeywordFilters) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := escapeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + prefixed("n", noteColumns) + `, bm25(notes_fts) AS rank
		FROM notes_fts JOIN notes n ON n.id = notes_fts.rowid
		WHERE notes_fts MATCH ? AND n.profile = ?`)
	args := []any{ftsQuery, profile}
	appendFilters(&sb, &args, f)
	sb.WriteString(" ORDER BY rank ASC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, apperrors.IO(err, "fts search")
	}
	defer rows.Close()

	var hits []KeywordHit
	var worst float64
	var ranks []float64
	type partial struct {
		note domain.Note
		rank float64
	}
	var partials []partial
	for rows.Next() {
		cols := make([]any, 0)
		n := domain.Note{}
		var tagsJSON string
		var parentID, clusterID sql.NullInt64
		var memType string
		var created, accessed string
		var rank float64
		cols = append(cols, &n.ID, &n.Profile, &n.Content, &n.Summary, &n.ContentHash, &tagsJSON, &n.Category,
			&n.ProjectName, &n.ProjectPath, &n.Importance, &memType, &parentID, &n.TreePath, &n.Depth,
			&n.Tier, &clusterID, &created, &accessed, &n.AccessCount, &rank)
		if err := rows.Scan(cols...); err != nil {
			return nil, apperrors.IO(err, "scan fts row")
		}
		n.MemoryType = domain.MemoryType(memType)
		if parentID.Valid {
			v := parentID.Int64
			n.ParentID = &v
		}
		if clusterID.Valid {
			v := clusterID.Int64
			n.ClusterID = &v
		}
		_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		n.LastAccessed, _ = time.Parse(time.RFC3339Nano, accessed)
		ranks = append(ranks, rank)
		if rank < worst || worst == 0 {
			worst = rank
		}
		partials = append(partials, partial{note: n, rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.IO(err, "iterate fts rows")
	}

	// bm25() in sqlite returns more-negative-is-better scores. Normalize
	// to [0,1] by dividing by the magnitude of the best (most negative)
	// score in this result set, per §4.6 step 1.
	best := 0.0
	for _, r := range ranks {
		if r < best {
			best = r
		}
	}
	for _, p := range partials {
		score := 0.0
		if best < 0 {
			score = p.rank / best
		}
		hits = append(hits, KeywordHit{Note: p.note, Score: score})
	}
	return hits, nil
}

// escapeFTSQuery performs minimal escaping so arbitrary user queries don't
// break FTS5 syntax: embedded double quotes are doubled and every
// whitespace-separated token is wrapped in double quotes. Quoted phrases
// and FTS operators in the input are not recognised; they are quoted as
// plain tokens like any other word.
func escapeFTSQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	if strings.ContainsAny(q, `"`) {
		q = strings.ReplaceAll(q, `"`, `""`)
	}
	// A bare multi-word query is treated as an AND of terms by quoting
	// each token, which also sidesteps FTS5 special characters like '-'.
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}

func appendFilters(sb *strings.Builder, args *[]any, f KeywordFilters) {
	for _, t := range f.Tags {
		sb.WriteString(` AND n.tags LIKE ?`)
		*args = append(*args, "%\""+t+"\"%")
	}
	if f.Project != "" {
		sb.WriteString(` AND n.project_name = ?`)
		*args = append(*args, f.Project)
	}
	if f.Category != "" {
		sb.WriteString(` AND n.category = ?`)
		*args = append(*args, f.Category)
	}
	if f.MinImportance > 0 {
		sb.WriteString(` AND n.importance >= ?`)
		*args = append(*args, f.MinImportance)
	}
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// SortOrder is the list() ordering (§4.2).
type SortOrder string

const (
	SortRecent     SortOrder = "recent"
	SortAccessed   SortOrder = "accessed"
	SortImportance SortOrder = "importance"
)

// List scrolls notes in a profile by the requested sort order.
func (s *Store) List(profile string, sort SortOrder, limit, offset int) ([]domain.Note, error) {
	col := "created_at"
	switch sort {
	case SortAccessed:
		col = "last_accessed"
	case SortImportance:
		col = "importance"
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+noteColumns+` FROM notes WHERE profile = ? ORDER BY `+col+` DESC LIMIT ? OFFSET ?`,
		profile, limit, offset)
	if err != nil {
		return nil, apperrors.IO(err, "list notes")
	}
	defer rows.Close()

	var out []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperrors.IO(err, "scan list row")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetMany loads notes by id without bumping access_count/last_accessed,
// used by the hybrid searcher to materialize candidate Hits (§4.6).
func (s *Store) GetMany(profile string, ids []int64) (map[int64]domain.Note, error) {
	out := make(map[int64]domain.Note, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, profile)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.Query(`SELECT `+noteColumns+` FROM notes WHERE profile = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, apperrors.IO(err, "load notes by id")
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, apperrors.IO(err, "scan note by id")
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// Stats computes StorageStats for a profile (§4.2).
func (s *Store) Stats(profile string, dbPath string) (domain.StorageStats, error) {
	stats := domain.StorageStats{
		Profile:    profile,
		ByCategory: map[string]int{},
		ByProject:  map[string]int{},
		ByTier:     map[domain.Tier]int{},
	}
	err := s.db.QueryRow(`SELECT count(*) FROM notes WHERE profile = ?`, profile).Scan(&stats.TotalNotes)
	if err != nil {
		return stats, apperrors.IO(err, "count notes")
	}

	rows, err := s.db.Query(`SELECT category, count(*) FROM notes WHERE profile = ? GROUP BY category`, profile)
	if err != nil {
		return stats, apperrors.IO(err, "group by category")
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return stats, apperrors.IO(err, "scan category group")
		}
		stats.ByCategory[cat] = n
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT project_name, count(*) FROM notes WHERE profile = ? GROUP BY project_name`, profile)
	if err != nil {
		return stats, apperrors.IO(err, "group by project")
	}
	for rows.Next() {
		var proj string
		var n int
		if err := rows.Scan(&proj, &n); err != nil {
			rows.Close()
			return stats, apperrors.IO(err, "scan project group")
		}
		stats.ByProject[proj] = n
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT tier, count(*) FROM notes WHERE profile = ? GROUP BY tier`, profile)
	if err != nil {
		return stats, apperrors.IO(err, "group by tier")
	}
	for rows.Next() {
		var tier int
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			rows.Close()
			return stats, apperrors.IO(err, "scan tier group")
		}
		stats.ByTier[domain.Tier(tier)] = n
	}
	rows.Close()

	if fi, err := statFile(dbPath); err == nil {
		stats.DBSizeBytes = fi
	}
	return stats, nil
}
