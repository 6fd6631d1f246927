package patterns

import (
	"embed"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"slm-core/internal/domain"
)

//go:embed assets/taxonomy.yaml
var assetsFS embed.FS

// TaxonomyEntry is one pattern type's candidate-value list (§4.7: "a
// static (but extensible) table maps pattern types to lists of candidate
// pattern values").
type TaxonomyEntry struct {
	Type        domain.PatternType `yaml:"type"`
	Category    string             `yaml:"category"` // maps to a config.Pattern prior key
	ExactToken  bool               `yaml:"exact_token"`
	Values      []string           `yaml:"values"`
}

type taxonomyAsset struct {
	Types []TaxonomyEntry `yaml:"types"`
}

// LoadTaxonomy parses the embedded taxonomy asset, then merges in extra
// candidate values supplied by config (extensibility point named in §4.7).
func LoadTaxonomy(extra map[domain.PatternType][]string) ([]TaxonomyEntry, error) {
	data, err := assetsFS.ReadFile("assets/taxonomy.yaml")
	if err != nil {
		return nil, err
	}
	var asset taxonomyAsset
	if err := yaml.Unmarshal(data, &asset); err != nil {
		return nil, err
	}
	for i, e := range asset.Types {
		if vals, ok := extra[e.Type]; ok {
			asset.Types[i].Values = append(asset.Types[i].Values, vals...)
		}
	}
	return asset.Types, nil
}

// matches reports whether value appears in content per the entry's match
// discipline (§4.7: case-insensitive word-boundary, or exact-token for
// protected technical terms).
func (e TaxonomyEntry) matches(value string, tokens map[string]struct{}, lowerContent string) bool {
	if e.ExactToken {
		_, ok := tokens[strings.ToLower(value)]
		return ok
	}
	pattern := `(?i)\b` + regexp.QuoteMeta(value) + `\b`
	return regexp.MustCompile(pattern).MatchString(lowerContent)
}
