// Package config loads and validates the engine's config.json (§6), a
// validator-tagged, grouped Config struct (internal/config/config.go)
// scoped to this engine's thresholds instead of AWS/server settings.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Graph holds the community-detection / similarity thresholds (§4.5, §6).
type Graph struct {
	EdgeThreshold float64 `json:"edge_threshold" validate:"min=0,max=1"`
	Resolution    float64 `json:"resolution" validate:"min=0"`
	MaxDepth      int     `json:"max_depth" validate:"min=1,max=10"`
	MinSplitSize  int     `json:"min_split_size" validate:"min=2"`
}

// SearchWeights are the fusion weights for keyword/term/graph scores (§4.6).
type SearchWeights struct {
	Keyword float64 `json:"keyword" validate:"min=0,max=1"`
	Term    float64 `json:"term" validate:"min=0,max=1"`
	Graph   float64 `json:"graph" validate:"min=0,max=1"`
}

// Search holds hybrid-search tuning (§4.6, §6).
type Search struct {
	Weights      SearchWeights `json:"weights" validate:"required"`
	Fusion       string        `json:"fusion" validate:"oneof=weighted rrf"`
	CacheSize    int           `json:"cache_size" validate:"min=0"`
	CacheTTLSecs int           `json:"cache_ttl_s" validate:"min=0"`
	GraphDamping float64       `json:"graph_damping" validate:"min=0,max=1"`
	RRFConstant  int           `json:"rrf_k" validate:"min=1"`
}

// PatternPrior is the Beta prior (alpha, beta) for one pattern-confidence
// category (§4.7).
type PatternPrior struct {
	Alpha float64 `json:"alpha" validate:"gt=0"`
	Beta  float64 `json:"beta" validate:"gt=0"`
}

// Pattern holds pattern-learning tuning (§4.7, §6).
type Pattern struct {
	Priors             map[string]PatternPrior `json:"priors" validate:"required"`
	RecencyWindowDays  int                     `json:"recency_window_days" validate:"min=1"`
	RecencyBonusMax    float64                 `json:"recency_bonus_max" validate:"min=1"`
}

// Backup holds snapshot scheduling (§4.9, §6).
type Backup struct {
	Interval  string `json:"interval" validate:"oneof=daily weekly off"`
	Retention int    `json:"retention" validate:"min=1"`
}

// Compression holds tier-transition aging thresholds (§4.9, §6).
type Compression struct {
	Enabled       bool `json:"enabled"`
	Tier2AgeDays  int  `json:"tier2_age_days" validate:"min=1"`
	Tier3AgeDays  int  `json:"tier3_age_days" validate:"min=1"`
	Tier2IdleDays int  `json:"tier2_idle_days" validate:"min=1"`
	Tier3IdleDays int  `json:"tier3_idle_days" validate:"min=0"`
}

// Config is the validated, immutable configuration record loaded once at
// startup (§9 "Global mutable state"). Replace only via Reload().
type Config struct {
	Graph       Graph       `json:"graph" validate:"required"`
	Search      Search      `json:"search" validate:"required"`
	Pattern     Pattern     `json:"pattern" validate:"required"`
	Backup      Backup      `json:"backup" validate:"required"`
	Compression Compression `json:"compression" validate:"required"`
}

var validate = validator.New()

// Default returns the documented defaults from §6.
func Default() Config {
	return Config{
		Graph: Graph{EdgeThreshold: 0.3, Resolution: 1.0, MaxDepth: 3, MinSplitSize: 10},
		Search: Search{
			Weights:      SearchWeights{Keyword: 0.5, Term: 0.3, Graph: 0.2},
			Fusion:       "weighted",
			CacheSize:    256,
			CacheTTLSecs: 300,
			GraphDamping: 0.4,
			RRFConstant:  60,
		},
		Pattern: Pattern{
			Priors: map[string]PatternPrior{
				"preference":  {Alpha: 1, Beta: 4},
				"style":       {Alpha: 1, Beta: 5},
				"terminology": {Alpha: 2, Beta: 3},
			},
			RecencyWindowDays: 30,
			RecencyBonusMax:   1.1,
		},
		Backup: Backup{Interval: "daily", Retention: 7},
		Compression: Compression{
			Enabled:       true,
			Tier2AgeDays:  30,
			Tier2IdleDays: 7,
			Tier3AgeDays:  90,
			Tier3IdleDays: 0,
		},
	}
}

// Validate checks struct tags; callers should call this after Load or any
// manual construction.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// Load reads config.json at path, falling back to Default() (written to
// disk) when the file does not yet exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if werr := Save(path, cfg); werr != nil {
			return cfg, werr
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
