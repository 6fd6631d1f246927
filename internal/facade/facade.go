// Package facade is the Core Façade (C10): the single embedded API surface
// every binding (CLI, MCP server, dashboard) calls into. It enforces
// profile scoping, input validation, error-kind assembly, and a bounded
// event log, sitting as an application-service layer (application/services)
// between interfaces/ and domain/.
package facade

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"slm-core/internal/apperrors"
	"slm-core/internal/config"
	"slm-core/internal/domain"
	"slm-core/internal/events"
	"slm-core/internal/graphintel"
	"slm-core/internal/patterns"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/profilemgr"
	"slm-core/internal/search"
	"slm-core/internal/terms"
)

// Facade wires every component behind one call surface.
type Facade struct {
	db      *sql.DB
	dbPath  string
	store   *sqlite.Store
	tree    *sqlite.TreeManager
	backup  *sqlite.BackupManager
	compr   *sqlite.Compressor
	graph   *graphintel.Builder
	searchr *search.Searcher
	learner *patterns.Learner
	profile *profilemgr.Manager
	events  *events.Ring
	log     *zap.SugaredLogger
	sw      *terms.Stopwords
	metrics *Metrics

	cfg config.Config
}

// Deps bundles the constructed components a caller (cmd/slmd, internal/di)
// has already assembled.
type Deps struct {
	DB         *sql.DB
	DBPath     string
	Store      *sqlite.Store
	Tree       *sqlite.TreeManager
	Backup     *sqlite.BackupManager
	Compressor *sqlite.Compressor
	Graph      *graphintel.Builder
	Search     *search.Searcher
	Learner    *patterns.Learner
	Profiles   *profilemgr.Manager
	Events     *events.Ring
	Log        *zap.SugaredLogger
	Stopwords  *terms.Stopwords
	Config     config.Config
}

func New(d Deps) *Facade {
	if d.Events == nil {
		d.Events = events.NewRing(200)
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return &Facade{
		db: d.DB, dbPath: d.DBPath, store: d.Store, tree: d.Tree, backup: d.Backup,
		compr: d.Compressor, graph: d.Graph, searchr: d.Search, learner: d.Learner,
		profile: d.Profiles, events: d.Events, log: d.Log, sw: d.Stopwords, cfg: d.Config,
		metrics: NewMetrics(),
	}
}

// Metrics exposes the façade's internal counters for status()/stats()
// surfaces; no scrape server is attached to it.
func (f *Facade) Metrics() ([]MetricFamily, error) { return f.metrics.Snapshot() }

// Reload swaps in freshly loaded config (explicit only, never file-watched
// — §9 "Global mutable state").
func (f *Facade) Reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return apperrors.Wrap(err, "reload config")
	}
	f.cfg = cfg
	return nil
}

func (f *Facade) record(op, profile string, start time.Time, err *error) {
	outcome := events.OutcomeSuccess
	if *err != nil {
		outcome = events.OutcomeFailure
	}
	duration := time.Since(start)
	f.events.Record(op, profile, outcome, duration)
	f.metrics.observe(op, string(outcome), duration.Seconds())
	if *err != nil {
		f.log.Warnw("operation failed", "operation", op, "profile", profile, "duration_ms", duration.Milliseconds(), "error", *err)
	} else {
		f.log.Infow("operation succeeded", "operation", op, "profile", profile, "duration_ms", duration.Milliseconds())
	}
}

func (f *Facade) resolveProfile(profile string) string {
	if profile != "" {
		return profile
	}
	active, err := f.profile.Active()
	if err != nil {
		return domain.DefaultProfile
	}
	return active
}

// AddParams mirrors the CLI/MCP add contract (§6).
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

// Add inserts a note, scoped to the resolved profile (§4.2, §4.10).
func (f *Facade) Add(p AddParams) (id int64, err error) {
	start := time.Now()
	profile := f.resolveProfile(p.Profile)
	defer f.record("add", profile, start, &err)

	id, err = f.store.Add(sqlite.AddParams{
		Profile: profile, Content: p.Content, Tags: p.Tags, Category: p.Category,
		ProjectName: p.ProjectName, ProjectPath: p.ProjectPath, Importance: p.Importance,
		MemoryType: p.MemoryType, ParentID: p.ParentID,
	})
	if err == nil {
		f.searchr.Invalidate(profile)
	}
	return id, err
}

// Get returns one note by id, scoped to profile (§4.2).
func (f *Facade) Get(profile string, id int64) (n domain.Note, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("get", profile, start, &err)
	n, err = f.store.Get(profile, id)
	return n, err
}

// Delete removes a note and its graph/pattern/archive cascades (§4.2).
func (f *Facade) Delete(profile string, id int64) (err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("delete", profile, start, &err)
	err = f.store.Delete(profile, id)
	if err == nil {
		f.searchr.Invalidate(profile)
	}
	return err
}

// List scrolls notes (§4.2).
func (f *Facade) List(profile string, sort sqlite.SortOrder, limit, offset int) (notes []domain.Note, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("list", profile, start, &err)
	notes, err = f.store.List(profile, sort, limit, offset)
	return notes, err
}

// Reparent moves a note to a new parent (or to the root) in the
// materialized tree (§4.3).
func (f *Facade) Reparent(profile string, id int64, newParentID *int64) (err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("reparent", profile, start, &err)
	err = f.tree.Reparent(profile, id, newParentID)
	return err
}

// Ancestors returns the chain from root to id's parent (§4.3).
func (f *Facade) Ancestors(profile string, id int64) (notes []domain.Note, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("ancestors", profile, start, &err)
	notes, err = f.tree.Ancestors(profile, id)
	return notes, err
}

// Descendants returns every note in id's subtree (§4.3).
func (f *Facade) Descendants(profile string, id int64) (notes []domain.Note, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("descendants", profile, start, &err)
	notes, err = f.tree.Descendants(profile, id)
	return notes, err
}

// Siblings returns notes sharing id's parent (§4.3).
func (f *Facade) Siblings(profile string, id int64) (notes []domain.Note, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("siblings", profile, start, &err)
	notes, err = f.tree.Siblings(profile, id)
	return notes, err
}

// Search runs the hybrid searcher (§4.6).
func (f *Facade) Search(profile, query string, limit int, minScore float64, filters search.Filters) (hits []domain.Hit, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("search", profile, start, &err)
	hits, err = f.searchr.Search(profile, query, limit, minScore, filters, f.cfg.Search)
	return hits, err
}

// BuildGraph rebuilds the similarity/cluster graph (§4.5).
func (f *Facade) BuildGraph(cancel <-chan struct{}, profile string) (stats domain.BuildStats, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("build_graph", profile, start, &err)
	stats, err = f.graph.Build(cancel, profile, f.cfg.Graph)
	if err == nil {
		f.searchr.Invalidate(profile)
	}
	return stats, err
}

// GraphStats reports current graph size without rebuilding (§6 graph-stats).
func (f *Facade) GraphStats(profile string) (stats GraphSummary, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("graph_stats", profile, start, &err)
	stats, err = f.loadGraphSummary(profile)
	return stats, err
}

// GraphSummary is the read-only view graph_stats/the dashboard's graph
// endpoint returns.
type GraphSummary struct {
	NodeCount    int
	EdgeCount    int
	ClusterCount int
	MaxDepth     int
}

func (f *Facade) loadGraphSummary(profile string) (GraphSummary, error) {
	var s GraphSummary
	if err := f.db.QueryRow(`SELECT count(*) FROM graph_nodes WHERE profile = ?`, profile).Scan(&s.NodeCount); err != nil {
		return s, apperrors.IO(err, "count graph_nodes")
	}
	if err := f.db.QueryRow(`SELECT count(*) FROM graph_edges WHERE profile = ?`, profile).Scan(&s.EdgeCount); err != nil {
		return s, apperrors.IO(err, "count graph_edges")
	}
	if err := f.db.QueryRow(`SELECT count(*) FROM clusters WHERE profile = ?`, profile).Scan(&s.ClusterCount); err != nil {
		return s, apperrors.IO(err, "count clusters")
	}
	row := f.db.QueryRow(`SELECT coalesce(max(depth), 0) FROM clusters WHERE profile = ?`, profile)
	if err := row.Scan(&s.MaxDepth); err != nil {
		return s, apperrors.IO(err, "max cluster depth")
	}
	return s, nil
}

// ClusterDetail is one cluster's members plus its stored summary.
type ClusterDetail struct {
	Cluster domain.Cluster
	Members []domain.Note
}

// Cluster returns one cluster's members and summary (§6 `cluster <id>`).
func (f *Facade) Cluster(profile string, clusterID int64) (detail ClusterDetail, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("cluster", profile, start, &err)

	row := f.db.QueryRow(`SELECT id, profile, cluster_name, description, memory_count, avg_importance,
		top_entities, summary, parent_cluster_id, depth FROM clusters WHERE id = ? AND profile = ?`, clusterID, profile)
	var c domain.Cluster
	var topEntitiesJSON string
	var parentID sql.NullInt64
	if err2 := row.Scan(&c.ID, &c.Profile, &c.ClusterName, &c.Description, &c.MemberCount, &c.AvgImportance,
		&topEntitiesJSON, &c.Summary, &parentID, &c.Depth); err2 != nil {
		if err2 == sql.ErrNoRows {
			err = apperrors.NotFound("cluster %d not found", clusterID)
		} else {
			err = apperrors.IO(err2, "load cluster")
		}
		return detail, err
	}
	if parentID.Valid {
		v := parentID.Int64
		c.ParentClusterID = &v
	}
	_ = unmarshalStrings(topEntitiesJSON, &c.TopEntities)

	memberRows, qerr := f.db.Query(`SELECT id FROM notes WHERE profile = ? AND cluster_id = ?`, profile, clusterID)
	if qerr != nil {
		err = apperrors.IO(qerr, "load cluster members")
		return detail, err
	}
	var ids []int64
	for memberRows.Next() {
		var id int64
		if serr := memberRows.Scan(&id); serr != nil {
			memberRows.Close()
			err = apperrors.IO(serr, "scan cluster member id")
			return detail, err
		}
		ids = append(ids, id)
	}
	memberRows.Close()

	members, gerr := f.store.GetMany(profile, ids)
	if gerr != nil {
		err = gerr
		return detail, err
	}
	detail.Cluster = c
	for _, id := range ids {
		if n, ok := members[id]; ok {
			detail.Members = append(detail.Members, n)
		}
	}
	return detail, nil
}

// Related returns memoryID's direct graph neighbors (§6 `related`).
func (f *Facade) Related(profile string, memoryID int64) (hits []domain.Hit, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("related", profile, start, &err)

	rows, qerr := f.db.Query(`SELECT source_memory_id, target_memory_id, similarity FROM graph_edges
		WHERE profile = ? AND (source_memory_id = ? OR target_memory_id = ?)`, profile, memoryID, memoryID)
	if qerr != nil {
		err = apperrors.IO(qerr, "load related edges")
		return nil, err
	}
	type neighbor struct {
		id  int64
		sim float64
	}
	var neighbors []neighbor
	for rows.Next() {
		var src, tgt int64
		var sim float64
		if serr := rows.Scan(&src, &tgt, &sim); serr != nil {
			rows.Close()
			err = apperrors.IO(serr, "scan related edge")
			return nil, err
		}
		other := src
		if src == memoryID {
			other = tgt
		}
		neighbors = append(neighbors, neighbor{id: other, sim: sim})
	}
	rows.Close()

	ids := make([]int64, len(neighbors))
	for i, nb := range neighbors {
		ids[i] = nb.id
	}
	notes, gerr := f.store.GetMany(profile, ids)
	if gerr != nil {
		err = gerr
		return nil, err
	}
	for _, nb := range neighbors {
		if n, ok := notes[nb.id]; ok {
			hits = append(hits, domain.Hit{Note: n, Score: nb.sim, Sources: []string{"graph"}})
		}
	}
	return hits, nil
}

// LearnPatterns recomputes identity patterns for profile (§4.7).
func (f *Facade) LearnPatterns(profile string) (patternsOut []domain.IdentityPattern, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("learn_patterns", profile, start, &err)
	patternsOut, err = f.learner.Learn(profile)
	return patternsOut, err
}

// CorrectPattern pins a user correction (§4.7).
func (f *Facade) CorrectPattern(profile string, patternID int64, newValue string) (err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("correct_pattern", profile, start, &err)
	err = f.learner.Correct(profile, patternID, newValue)
	return err
}

// GetIdentityContext returns patterns at or above minConf (§4.7).
func (f *Facade) GetIdentityContext(profile string, minConf float64) (ctx domain.IdentityContext, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("get_identity_context", profile, start, &err)
	ctx, err = f.learner.GetIdentityContext(profile, minConf)
	return ctx, err
}

// ListProfiles returns every profile with row counts (§4.8).
func (f *Facade) ListProfiles() (counts []domain.ProfileCounts, err error) {
	start := time.Now()
	defer f.record("list_profiles", "*", start, &err)
	counts, err = f.profile.List()
	return counts, err
}

// CreateProfile registers a new profile (§4.8).
func (f *Facade) CreateProfile(name, description string) (err error) {
	start := time.Now()
	defer f.record("create_profile", name, start, &err)
	err = f.profile.Create(name, description)
	return err
}

// SwitchProfile repoints the active profile (§4.8).
func (f *Facade) SwitchProfile(name string) (err error) {
	start := time.Now()
	defer f.record("switch_profile", name, start, &err)
	err = f.profile.Switch(name)
	return err
}

// DeleteProfile removes a profile after an automatic backup (§4.8, §4.9).
func (f *Facade) DeleteProfile(cancel <-chan struct{}, name string) (err error) {
	start := time.Now()
	defer f.record("delete_profile", name, start, &err)
	err = f.profile.Delete(cancel, name, f.cfg.Backup.Retention)
	return err
}

// Status reports counts, active profile, DB size, and recent backup/build
// activity (§6 `status`).
type Status struct {
	Profile     string
	Stats       domain.StorageStats
	Graph       GraphSummary
	RecentEvents []events.Event
	Metrics     []MetricFamily
}

func (f *Facade) Status(profile string) (st Status, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("status", profile, start, &err)

	st.Profile = profile
	st.Stats, err = f.store.Stats(profile, f.dbPath)
	if err != nil {
		return st, err
	}
	st.Graph, err = f.loadGraphSummary(profile)
	if err != nil {
		return st, err
	}
	st.RecentEvents = f.events.Recent(20)
	st.Metrics, err = f.metrics.Snapshot()
	if err != nil {
		err = apperrors.Internal("gather metrics: %v", err)
		return st, err
	}
	return st, nil
}

// Backup snapshots the database file (§4.9, §6).
func (f *Facade) Backup(cancel <-chan struct{}) (path string, err error) {
	start := time.Now()
	defer f.record("backup", "*", start, &err)
	path, err = f.backup.Snapshot(cancel, f.cfg.Backup.Retention)
	return path, err
}

// Compress runs the tier-transition maintenance pass for profile (§4.9).
func (f *Facade) Compress(profile string) (res sqlite.CompressionResult, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("compress", profile, start, &err)
	if !f.cfg.Compression.Enabled {
		return res, nil
	}
	res, err = f.compr.Run(profile, time.Now().UTC(), f.cfg.Compression.Tier2AgeDays, f.cfg.Compression.Tier2IdleDays, f.cfg.Compression.Tier3AgeDays)
	if err == nil && (res.PromotedToSummary > 0 || res.PromotedToArchive > 0) {
		f.searchr.Invalidate(profile)
	}
	return res, err
}

// Config exposes the façade's current immutable config snapshot.
func (f *Facade) Config() config.Config { return f.cfg }

// Export renders every note in profile as either "json" or "markdown",
// for the read-only export(format) query endpoint (§6).
func (f *Facade) Export(profile, format string) (data []byte, contentType string, err error) {
	start := time.Now()
	profile = f.resolveProfile(profile)
	defer f.record("export", profile, start, &err)

	notes, lerr := f.store.List(profile, sqlite.SortRecent, 1_000_000, 0)
	if lerr != nil {
		err = lerr
		return nil, "", err
	}

	switch format {
	case "", "json":
		data, err = json.MarshalIndent(notes, "", "  ")
		if err != nil {
			err = apperrors.Internal("marshal export: %v", err)
			return nil, "", err
		}
		return data, "application/json", nil
	case "markdown":
		var b strings.Builder
		for _, n := range notes {
			b.WriteString("## Note ")
			b.WriteString(strconv.FormatInt(n.ID, 10))
			b.WriteString("\n\n")
			b.WriteString(domain.FormatContent(n.Content, true))
			b.WriteString("\n\n")
		}
		return []byte(b.String()), "text/markdown", nil
	default:
		err = apperrors.Validation("unsupported export format %q", format)
		return nil, "", err
	}
}

// Events exposes the event ring for bindings that need raw access (e.g.
// the dashboard's timeline endpoint).
func (f *Facade) Events() *events.Ring { return f.events }

func unmarshalStrings(raw string, out *[]string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
