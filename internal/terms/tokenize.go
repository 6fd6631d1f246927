// Package terms is the Term Extractor (C4): tokenization, stop-word
// filtering, and TF-IDF scoring that turns a corpus of Notes into
// per-Note sparse term vectors (§4.4), generalizing a keyword-overlap
// scoring idiom (domain/services/connection_analyzer.go) into a full
// TF-IDF + n-gram pipeline.
package terms

import (
	"embed"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed assets/stopwords.yaml
var assetsFS embed.FS

const (
	MinTokenLen = 2
	MaxTokenLen = 40
)

var splitRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// camelBoundary finds lower-to-upper transitions for camelCase splitting.
var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

type stopwordAsset struct {
	English  []string `yaml:"english"`
	Domain   []string `yaml:"domain"`
	Protected []string `yaml:"protected"`
}

// Stopwords is the fixed English list plus a configurable domain list; the
// protected set is never filtered out even if present in either list.
type Stopwords struct {
	set       map[string]struct{}
	protected map[string]struct{}
}

var (
	defaultOnce      sync.Once
	defaultStopwords *Stopwords
)

// Default loads the embedded stop-word asset once per process.
func Default() *Stopwords {
	defaultOnce.Do(func() {
		sw, err := LoadEmbedded(nil)
		if err != nil {
			// The embedded asset is part of the binary; a load failure here
			// is a build defect, not a runtime condition to recover from.
			sw = &Stopwords{set: map[string]struct{}{}, protected: map[string]struct{}{}}
		}
		defaultStopwords = sw
	})
	return defaultStopwords
}

// LoadEmbedded parses the embedded stopwords.yaml and merges in extraDomain
// words supplied by config.
func LoadEmbedded(extraDomain []string) (*Stopwords, error) {
	data, err := assetsFS.ReadFile("assets/stopwords.yaml")
	if err != nil {
		return nil, err
	}
	var asset stopwordAsset
	if err := yaml.Unmarshal(data, &asset); err != nil {
		return nil, err
	}
	sw := &Stopwords{set: map[string]struct{}{}, protected: map[string]struct{}{}}
	for _, w := range asset.English {
		sw.set[w] = struct{}{}
	}
	for _, w := range asset.Domain {
		sw.set[w] = struct{}{}
	}
	for _, w := range extraDomain {
		sw.set[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range asset.Protected {
		sw.protected[w] = struct{}{}
	}
	return sw, nil
}

// IsStop reports whether term should be filtered, honoring the protected
// override (§4.4: "Technical terms in a protected list... are never
// stop-worded").
func (s *Stopwords) IsStop(term string) bool {
	if _, ok := s.protected[term]; ok {
		return false
	}
	_, ok := s.set[term]
	return ok
}

// Tokenize lowercases, splits on non-alphanumeric, preserves camelCase/
// snake_case by emitting both the joined and split forms, and discards
// tokens shorter than MinTokenLen or longer than MaxTokenLen (§4.4 step 1).
func Tokenize(content string) []string {
	var out []string
	for _, word := range splitRe.Split(content, -1) {
		parts := strings.FieldsFunc(word, func(r rune) bool { return r == '_' })
		if len(parts) > 1 {
			// snake_case: the joined form, then each part below
			out = append(out, filterLen(strings.ToLower(strings.Join(parts, "")))...)
		}
		for _, raw := range parts {
			split := camelBoundary.ReplaceAllString(raw, "$1 $2")
			joined := strings.ToLower(raw)
			out = append(out, filterLen(joined)...)
			if split != raw {
				for _, part := range strings.Fields(split) {
					out = append(out, filterLen(strings.ToLower(part))...)
				}
			}
		}
	}
	return out
}

func filterLen(tok string) []string {
	if len(tok) < MinTokenLen || len(tok) > MaxTokenLen {
		return nil
	}
	return []string{tok}
}

// FilterStop removes stop-words, keeping order.
func FilterStop(tokens []string, sw *Stopwords) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !sw.IsStop(t) {
			out = append(out, t)
		}
	}
	return out
}

// Bigrams returns unigrams plus bigrams of adjacent tokens (§4.4 step 3).
// Callers pass the already stop-word-filtered unigram slice so bigrams
// only join non-stop-word tokens.
func Bigrams(unigrams []string) []string {
	out := make([]string, 0, len(unigrams)*2)
	out = append(out, unigrams...)
	for i := 0; i+1 < len(unigrams); i++ {
		out = append(out, unigrams[i]+" "+unigrams[i+1])
	}
	return out
}
