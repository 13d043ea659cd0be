// Package features expands raw indicator columns into lagged candidate
// features and prunes them to a deterministic, low-redundancy set.
package features

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/pkg/formulas"
)

// minRows is the smallest aligned sample the filters can work with.
const minRows = 10

// Classifier names the timeframe class of a raw field. *ingest.Separator
// satisfies it. ok=false excludes the field from selection entirely.
type Classifier interface {
	ClassForField(name string) (domain.TimeframeClass, bool)
}

// Candidate is one lagged view of a raw field. Values is a window into the
// shared column arena: every candidate is a subslice of its base column,
// aligned so that all candidates cover the same rows without copying.
type Candidate struct {
	domain.CandidateField
	Class  domain.TimeframeClass
	Values []float64

	variance float64
}

// Selector owns the expansion and pruning rules.
type Selector struct {
	cfg      config.FeatureSelectionConfig
	maxTotal int
	groupOf  map[string]string
	groups   []string
	classes  Classifier
	log      zerolog.Logger
}

// NewSelector builds a selector. analysisMax is the run-wide feature cap;
// the effective cap is the smaller of it and the selector's own.
func NewSelector(cfg config.FeatureSelectionConfig, analysisMax int, fieldGroups map[string][]string, classes Classifier, log zerolog.Logger) *Selector {
	maxTotal := cfg.MaxFeatures
	if analysisMax > 0 && analysisMax < maxTotal {
		maxTotal = analysisMax
	}
	groupOf := make(map[string]string)
	groups := make([]string, 0, len(fieldGroups))
	for group, prefixes := range fieldGroups {
		groups = append(groups, group)
		for _, p := range prefixes {
			groupOf[p] = group
		}
	}
	sort.Strings(groups)
	return &Selector{
		cfg:      cfg,
		maxTotal: maxTotal,
		groupOf:  groupOf,
		groups:   groups,
		classes:  classes,
		log:      log.With().Str("component", "features").Logger(),
	}
}

// Select expands every grouped field into lags 0..max_lags, drops flat and
// redundant candidates, and caps the survivors. Iteration order is group,
// then lag, then name, so the result is identical across runs.
func (s *Selector) Select(series *domain.Series) ([]Candidate, error) {
	n := series.Len()
	maxLag := s.cfg.MaxLags
	if maxLag < 0 {
		maxLag = 0
	}
	if n-maxLag < minRows {
		return nil, &domain.InsufficientDataError{Needed: maxLag + minRows, Got: n}
	}

	grouped, classOf := s.groupFields(series)
	if len(grouped) == 0 {
		return nil, nil
	}

	// Lag k of a column is the subslice ending k rows early; offsetting the
	// start by maxLag-k keeps every view on the same rows.
	view := func(col []float64, lag int) []float64 {
		return col[maxLag-lag : n-lag]
	}

	var candidates []Candidate
	for _, group := range s.groups {
		for lag := 0; lag <= maxLag; lag++ {
			for _, name := range grouped[group] {
				vals := view(series.Fields[name], lag)
				v := formulas.Variance(vals)
				if math.IsNaN(v) || v < s.cfg.MinVariance {
					continue
				}
				candidates = append(candidates, Candidate{
					CandidateField: domain.CandidateField{Name: name, Group: group, Lag: lag},
					Class:          classOf[name],
					Values:         vals,
					variance:       v,
				})
			}
		}
	}

	kept := s.dropCorrelated(candidates)
	kept = s.capByVariance(kept)
	for i := range kept {
		kept[i].ID = i
	}

	s.log.Debug().
		Str("series", series.Name).
		Int("expanded", len(candidates)).
		Int("kept", len(kept)).
		Msg("feature selection complete")
	return kept, nil
}

// groupFields buckets the series fields by configured group, dropping
// fields whose prefix belongs to none or whose timeframe suffix is not
// recognized. Names are sorted inside each bucket.
func (s *Selector) groupFields(series *domain.Series) (map[string][]string, map[string]domain.TimeframeClass) {
	grouped := make(map[string][]string)
	classOf := make(map[string]domain.TimeframeClass)
	for name, col := range series.Fields {
		if len(col) != series.Len() {
			continue
		}
		group, ok := s.groupOf[fieldPrefix(name)]
		if !ok {
			s.log.Debug().Str("field", name).Msg("field outside configured groups, skipped")
			continue
		}
		class, ok := s.classes.ClassForField(name)
		if !ok {
			s.log.Debug().Str("field", name).Msg("field timeframe unrecognized, skipped")
			continue
		}
		grouped[group] = append(grouped[group], name)
		classOf[name] = class
	}
	for g := range grouped {
		sort.Strings(grouped[g])
	}
	return grouped, classOf
}

// dropCorrelated keeps a candidate only when its absolute correlation with
// every earlier keeper stays at or under the threshold.
func (s *Selector) dropCorrelated(candidates []Candidate) []Candidate {
	var kept []Candidate
	for _, cand := range candidates {
		redundant := false
		for i := range kept {
			corr := formulas.Correlation(cand.Values, kept[i].Values)
			if math.Abs(corr) > s.cfg.CorrelationThreshold {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, cand)
		}
	}
	return kept
}

// capByVariance truncates to the effective cap, preferring higher-variance
// candidates but preserving the original walk order in the output.
func (s *Selector) capByVariance(kept []Candidate) []Candidate {
	if len(kept) <= s.maxTotal {
		return kept
	}
	order := make([]int, len(kept))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return kept[order[a]].variance > kept[order[b]].variance
	})
	winners := make(map[int]bool, s.maxTotal)
	for _, idx := range order[:s.maxTotal] {
		winners[idx] = true
	}
	trimmed := make([]Candidate, 0, s.maxTotal)
	for i, cand := range kept {
		if winners[i] {
			trimmed = append(trimmed, cand)
		}
	}
	return trimmed
}

func fieldPrefix(name string) string {
	i := 0
	for i < len(name) {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			break
		}
		i++
	}
	return name[:i]
}
