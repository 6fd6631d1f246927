// Package patterns is the Pattern Learner (C7): a taxonomy-driven scan of a
// profile's notes that infers confidence-scored identity preferences via a
// Beta-Binomial posterior, reworking a connection-scoring idiom around
// gonum's stat/distuv Beta distribution instead of a hand-rolled ratio.
package patterns

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"slm-core/internal/apperrors"
	"slm-core/internal/config"
	"slm-core/internal/domain"
	"slm-core/internal/terms"
)

// Learner is C7.
type Learner struct {
	db        *sql.DB
	cfg       config.Pattern
	extraVals map[domain.PatternType][]string
}

func NewLearner(db *sql.DB, cfg config.Pattern) *Learner {
	return &Learner{db: db, cfg: cfg}
}

type noteFacts struct {
	id        int64
	content   string
	project   string
	createdAt time.Time
}

type candidate struct {
	entry     TaxonomyEntry
	value     string
	supportIDs []int64
	recent    int
}

// Learn recomputes every non-pinned IdentityPattern for profile and
// replaces the profile's previous set with the new one, respecting pinned
// corrections (§4.7).
func (l *Learner) Learn(profile string) ([]domain.IdentityPattern, error) {
	taxonomy, err := LoadTaxonomy(l.extraVals)
	if err != nil {
		return nil, apperrors.Internal("load pattern taxonomy: %v", err)
	}

	notes, err := l.loadNotes(profile)
	if err != nil {
		return nil, err
	}

	pinned, err := l.loadPinned(profile)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -l.cfg.RecencyWindowDays)

	byType := map[domain.PatternType][]candidate{}
	for _, entry := range taxonomy {
		values := entry.Values
		if entry.Type == domain.PatternActiveProject {
			values = distinctProjects(notes)
		}
		for _, value := range values {
			if _, isPinned := pinned[patternIdentity{entry.Type, value}]; isPinned {
				continue
			}
			cand := candidate{entry: entry, value: value}
			for _, n := range notes {
				if !matchesNote(entry, value, n) {
					continue
				}
				cand.supportIDs = append(cand.supportIDs, n.id)
				if n.createdAt.After(cutoff) {
					cand.recent++
				}
			}
			if len(cand.supportIDs) == 0 {
				continue
			}
			byType[entry.Type] = append(byType[entry.Type], cand)
		}
	}

	n := len(notes)
	var result []domain.IdentityPattern
	now := time.Now().UTC()

	for ptype, cands := range byType {
		prior, ok := l.cfg.Priors[cands[0].entry.Category]
		if !ok {
			prior = config.PatternPrior{Alpha: 1, Beta: 4}
		}
		raw := make([]float64, len(cands))
		for i, c := range cands {
			k := len(c.supportIDs)
			pm := posteriorMean(prior.Alpha, prior.Beta, k, n)
			pm *= recencyBonus(c.recent, k, l.cfg.RecencyBonusMax)
			raw[i] = pm
		}
		normalized := logNormalize(raw)

		for i, c := range cands {
			conf := capConfidence(normalized[i], domain.MaxLearnedConfidence)
			ip := domain.IdentityPattern{
				Profile:      profile,
				PatternType:  ptype,
				PatternKey:   string(ptype),
				PatternValue: c.value,
				Confidence:   conf,
				Frequency:    len(c.supportIDs),
				LastSeen:     now,
			}
			result = append(result, ip)
		}
	}

	for _, p := range pinned {
		result = append(result, p)
	}

	if err := l.persist(profile, result, byType); err != nil {
		return nil, err
	}
	return result, nil
}

type patternIdentity struct {
	Type  domain.PatternType
	Value string
}

func (l *Learner) loadNotes(profile string) ([]noteFacts, error) {
	rows, err := l.db.Query(`SELECT id, content, project_name, created_at FROM notes WHERE profile = ?`, profile)
	if err != nil {
		return nil, apperrors.IO(err, "load notes for pattern learning")
	}
	defer rows.Close()
	var out []noteFacts
	for rows.Next() {
		var nf noteFacts
		var created string
		if err := rows.Scan(&nf.id, &nf.content, &nf.project, &created); err != nil {
			return nil, apperrors.IO(err, "scan note for pattern learning")
		}
		nf.createdAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, nf)
	}
	return out, rows.Err()
}

func (l *Learner) loadPinned(profile string) (map[patternIdentity]domain.IdentityPattern, error) {
	rows, err := l.db.Query(`SELECT id, pattern_type, pattern_key, pattern_value, confidence, frequency, last_seen, pinned, corrected_at
		FROM identity_patterns WHERE profile = ? AND pinned = 1`, profile)
	if err != nil {
		return nil, apperrors.IO(err, "load pinned patterns")
	}
	defer rows.Close()
	out := map[patternIdentity]domain.IdentityPattern{}
	for rows.Next() {
		var ip domain.IdentityPattern
		var ptype string
		var lastSeen string
		var pinnedInt int
		var correctedAt sql.NullString
		if err := rows.Scan(&ip.ID, &ptype, &ip.PatternKey, &ip.PatternValue, &ip.Confidence, &ip.Frequency, &lastSeen, &pinnedInt, &correctedAt); err != nil {
			return nil, apperrors.IO(err, "scan pinned pattern")
		}
		ip.Profile = profile
		ip.PatternType = domain.PatternType(ptype)
		ip.Pinned = pinnedInt != 0
		ip.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
		if correctedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, correctedAt.String)
			ip.CorrectedAt = &t
		}
		out[patternIdentity{ip.PatternType, ip.PatternValue}] = ip
	}
	return out, rows.Err()
}

// persist replaces the profile's non-pinned IdentityPattern rows and writes
// up to MaxExamplesPerPattern PatternExample rows per pattern (§4.7).
func (l *Learner) persist(profile string, patterns []domain.IdentityPattern, byType map[domain.PatternType][]candidate) error {
	tx, err := l.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin pattern persist")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM identity_patterns WHERE profile = ? AND pinned = 0`, profile); err != nil {
		return apperrors.IO(err, "clear non-pinned patterns")
	}

	supportByValue := map[patternIdentity][]int64{}
	for _, cands := range byType {
		for _, c := range cands {
			supportByValue[patternIdentity{c.entry.Type, c.value}] = c.supportIDs
		}
	}

	for i, p := range patterns {
		var id int64
		if p.Pinned {
			id = p.ID
		} else {
			// The non-pinned set was fully cleared above, so this insert
			// only conflicts with a pinned row already holding this exact
			// (type, key, value) — skip it and keep the pinned row as-is.
			lastSeen := p.LastSeen.UTC().Format(time.RFC3339Nano)
			res, err := tx.Exec(`INSERT OR IGNORE INTO identity_patterns
				(profile, pattern_type, pattern_key, pattern_value, confidence, frequency, last_seen, pinned, corrected_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
				profile, string(p.PatternType), p.PatternKey, p.PatternValue, p.Confidence, p.Frequency, lastSeen)
			if err != nil {
				return apperrors.IO(err, "insert identity_pattern")
			}
			affected, _ := res.RowsAffected()
			if affected == 0 {
				continue
			}
			id, err = res.LastInsertId()
			if err != nil {
				return apperrors.IO(err, "read identity_pattern id")
			}
			patterns[i].ID = id
			if err := l.writeExamples(tx, id, supportByValue[patternIdentity{p.PatternType, p.PatternValue}]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.IO(err, "commit pattern persist")
	}
	return nil
}

func (l *Learner) writeExamples(tx *sql.Tx, patternID int64, supportIDs []int64) error {
	if _, err := tx.Exec(`DELETE FROM pattern_examples WHERE pattern_id = ?`, patternID); err != nil {
		return apperrors.IO(err, "clear pattern_examples")
	}
	limit := len(supportIDs)
	if limit > domain.MaxExamplesPerPattern {
		limit = domain.MaxExamplesPerPattern
	}
	for i := 0; i < limit; i++ {
		memID := supportIDs[i]
		var content string
		if err := tx.QueryRow(`SELECT content FROM notes WHERE id = ?`, memID).Scan(&content); err != nil {
			continue
		}
		snippet := content
		if len(snippet) > 160 {
			snippet = snippet[:160] + "…"
		}
		if _, err := tx.Exec(`INSERT INTO pattern_examples (pattern_id, memory_id, context) VALUES (?, ?, ?)`, patternID, memID, snippet); err != nil {
			return apperrors.IO(err, "insert pattern_example")
		}
	}
	return nil
}

func matchesNote(entry TaxonomyEntry, value string, n noteFacts) bool {
	if entry.Type == domain.PatternActiveProject {
		return n.project == value
	}
	lower := strings.ToLower(n.content)
	if entry.ExactToken {
		tokens := tokenSet(n.content)
		_, ok := tokens[strings.ToLower(value)]
		return ok
	}
	return entry.matches(value, nil, lower)
}

func tokenSet(content string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range terms.Tokenize(content) {
		out[t] = struct{}{}
	}
	return out
}

func distinctProjects(notes []noteFacts) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, n := range notes {
		if n.project == "" {
			continue
		}
		if _, ok := seen[n.project]; ok {
			continue
		}
		seen[n.project] = struct{}{}
		out = append(out, n.project)
	}
	sort.Strings(out)
	return out
}

// GetIdentityContext returns a compact, structured view of every pattern at
// or above minConf, ready for consumption by external prompts (§4.7).
func (l *Learner) GetIdentityContext(profile string, minConf float64) (domain.IdentityContext, error) {
	rows, err := l.db.Query(`SELECT pattern_type, pattern_value, confidence, pinned FROM identity_patterns
		WHERE profile = ? AND confidence >= ? ORDER BY confidence DESC`, profile, minConf)
	if err != nil {
		return domain.IdentityContext{}, apperrors.IO(err, "load identity context")
	}
	defer rows.Close()
	ctx := domain.IdentityContext{Profile: profile}
	for rows.Next() {
		var ptype, value string
		var conf float64
		var pinnedInt int
		if err := rows.Scan(&ptype, &value, &conf, &pinnedInt); err != nil {
			return domain.IdentityContext{}, apperrors.IO(err, "scan identity context row")
		}
		ctx.Patterns = append(ctx.Patterns, domain.IdentityContextEntry{
			Type: domain.PatternType(ptype), Value: value, Confidence: conf, Pinned: pinnedInt != 0,
		})
	}
	return ctx, rows.Err()
}

// Correct pins pattern_id's value, setting confidence to 1.0 and recording
// the correction timestamp; future Learn calls skip recomputing it (§4.7).
func (l *Learner) Correct(profile string, patternID int64, newValue string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.Exec(`UPDATE identity_patterns SET pattern_value = ?, confidence = ?, pinned = 1, corrected_at = ?
		WHERE id = ? AND profile = ?`, newValue, domain.PinnedConfidence, now, patternID, profile)
	if err != nil {
		return apperrors.IO(err, "correct pattern")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound("pattern %d not found", patternID)
	}
	return nil
}
