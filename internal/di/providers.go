// Package di assembles the engine's full dependency graph for cmd/slmd
// (and any other binding that wants one process-wide façade), replacing
// an AWS/DynamoDB provider set with this engine's SQLite/zap/gonum stack.
// Options and the Provide* constructors here are shared between wire.go
// (the wireinject injector declaration, never compiled into the binary)
// and wire_gen.go (the hand-maintained stand-in for `wire`'s generated
// output).
package di

import (
	"database/sql"

	"go.uber.org/zap"

	"slm-core/internal/config"
	"slm-core/internal/events"
	"slm-core/internal/facade"
	"slm-core/internal/graphintel"
	"slm-core/internal/logging"
	"slm-core/internal/patterns"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/profilemgr"
	"slm-core/internal/search"
	"slm-core/internal/terms"
)

// Options bundles the paths and flags an injector needs that no
// constructor can derive on its own (DB path, pointer file path,
// interactive/level for the logger).
type Options struct {
	DBPath      string
	BackupDir   string
	PointerPath string
	ConfigPath  string
	Interactive bool
	LogLevel    string
}

func ProvideConfig(opts Options) (config.Config, error) {
	return config.Load(opts.ConfigPath)
}

func ProvideLogger(opts Options) (*zap.SugaredLogger, error) {
	return logging.New(opts.Interactive, opts.LogLevel)
}

func ProvideDB(opts Options) (*sql.DB, error) {
	return sqlite.Open(opts.DBPath)
}

func ProvideBackupManager(db *sql.DB, opts Options) *sqlite.BackupManager {
	return sqlite.NewBackupManager(db, opts.DBPath, opts.BackupDir)
}

func ProvideSearcher(store *sqlite.Store, sw *terms.Stopwords, cfg config.Config) *search.Searcher {
	return search.New(store, sw, cfg.Search)
}

func ProvidePatternLearner(db *sql.DB, cfg config.Config) *patterns.Learner {
	return patterns.NewLearner(db, cfg.Pattern)
}

func ProvideProfileManager(db *sql.DB, store *sqlite.Store, backup *sqlite.BackupManager, opts Options) *profilemgr.Manager {
	return profilemgr.NewManager(db, store, backup, opts.PointerPath)
}

func ProvideEventRing() *events.Ring {
	return events.NewRing(200)
}

func ProvideFacadeDeps(
	db *sql.DB,
	opts Options,
	store *sqlite.Store,
	tree *sqlite.TreeManager,
	backup *sqlite.BackupManager,
	compr *sqlite.Compressor,
	graph *graphintel.Builder,
	searcher *search.Searcher,
	learner *patterns.Learner,
	profiles *profilemgr.Manager,
	ring *events.Ring,
	log *zap.SugaredLogger,
	sw *terms.Stopwords,
	cfg config.Config,
) facade.Deps {
	return facade.Deps{
		DB: db, DBPath: opts.DBPath, Store: store, Tree: tree, Backup: backup,
		Compressor: compr, Graph: graph, Search: searcher, Learner: learner,
		Profiles: profiles, Events: ring, Log: log, Stopwords: sw, Config: cfg,
	}
}
