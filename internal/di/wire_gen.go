// Hand-maintained stand-in for what `go run github.com/google/wire/cmd/wire`
// would generate from wire.go's engineSet — this repo's build never shells
// out to the wire binary, so this file is kept in sync by hand whenever the
// dependency graph in wire.go changes.
package di

import (
	"database/sql"

	"go.uber.org/zap"

	"slm-core/internal/config"
	"slm-core/internal/facade"
	"slm-core/internal/graphintel"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/terms"
)

// Assembled is everything InitializeFacade built, for callers (cmd/slmd)
// that need the raw *sql.DB or logger alongside the Facade itself (e.g.
// for graceful shutdown or attaching internal/httpapi).
type Assembled struct {
	Facade *facade.Facade
	DB     *sql.DB
	Config config.Config
	Log    *zap.SugaredLogger
}

// InitializeFacade constructs every component in the dependency order
// engineSet describes and returns the assembled graph.
func InitializeFacade(opts Options) (*Assembled, error) {
	cfg, err := ProvideConfig(opts)
	if err != nil {
		return nil, err
	}

	log, err := ProvideLogger(opts)
	if err != nil {
		return nil, err
	}

	db, err := ProvideDB(opts)
	if err != nil {
		return nil, err
	}

	store := sqlite.NewStore(db)
	tree := sqlite.NewTreeManager(db)
	backup := ProvideBackupManager(db, opts)
	compr := sqlite.NewCompressor(store)
	sw := terms.Default()

	graph := graphintel.NewBuilder(db, sw)
	searcher := ProvideSearcher(store, sw, cfg)
	learner := ProvidePatternLearner(db, cfg)
	profiles := ProvideProfileManager(db, store, backup, opts)
	ring := ProvideEventRing()

	deps := ProvideFacadeDeps(db, opts, store, tree, backup, compr, graph, searcher, learner, profiles, ring, log, sw, cfg)
	f := facade.New(deps)

	return &Assembled{Facade: f, DB: db, Config: cfg, Log: log}, nil
}
