//go:build wireinject

// This file is never compiled into the binary (the wireinject build tag
// excludes it); it exists only so `wire` can regenerate wire_gen.go from
// engineSet if the dependency graph changes, following an
// internal/di/wire.go injector-declaration idiom.
package di

import (
	"github.com/google/wire"

	"slm-core/internal/facade"
	"slm-core/internal/graphintel"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/terms"
)

var engineSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideDB,
	sqlite.NewStore,
	sqlite.NewTreeManager,
	ProvideBackupManager,
	sqlite.NewCompressor,
	terms.Default,
	graphintel.NewBuilder,
	ProvideSearcher,
	ProvidePatternLearner,
	ProvideProfileManager,
	ProvideEventRing,
	ProvideFacadeDeps,
	facade.New,
)

// InitializeFacade is wire's injector signature; `wire` generates
// wire_gen.go's InitializeFacade body from this call.
func InitializeFacade(opts Options) (*Assembled, error) {
	wire.Build(engineSet, wire.Struct(new(Assembled), "*"))
	return nil, nil
}
