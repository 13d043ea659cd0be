package scoring

import (
	"math"
	"sort"

	"github.com/aristath/tremor/internal/domain"
)

// contributionCap bounds a single field's influence to three times its
// threshold; confidenceSaturation is the active-field count at which
// confidence reaches 1.
const (
	contributionCap      = 3.0
	confidenceSaturation = 5.0
)

// MatrixEntry is one deployed field weight.
type MatrixEntry struct {
	Weight    float64               `json:"weight"` // validation roc_auc
	Threshold float64               `json:"threshold"`
	Direction float64               `json:"direction"`
	Timeframe domain.TimeframeClass `json:"timeframe"`
}

// Matrix is the deployable weight matrix distilled from confirmed scores.
// It scores single observations without history, so only lag-zero fields
// participate.
type Matrix struct {
	Fields map[string]MatrixEntry `json:"fields"`
}

// NewMatrix keeps the confirmed, lag-zero scores.
func NewMatrix(scores []domain.FieldScore) *Matrix {
	m := &Matrix{Fields: make(map[string]MatrixEntry)}
	for _, sc := range scores {
		if !sc.Confirmed || sc.Field.Lag != 0 {
			continue
		}
		m.Fields[sc.Field.Name] = MatrixEntry{
			Weight:    sc.ROCAUC,
			Threshold: sc.Threshold,
			Direction: sc.Direction,
			Timeframe: sc.TimeframeClass,
		}
	}
	return m
}

// Contribution explains one active field in a live score.
type Contribution struct {
	Field        string  `json:"field"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// LiveScore is the result of scoring one observation.
type LiveScore struct {
	Score         float64        `json:"score"`
	Confidence    float64        `json:"confidence"`
	Active        int            `json:"active_fields"`
	Contributions []Contribution `json:"contributions,omitempty"`
}

// Score evaluates one observation map (field name to current value). A field
// contributes when its magnitude clears the deployed threshold; the total is
// normalized by the active count and confidence grows with it.
func (m *Matrix) Score(obs map[string]float64) LiveScore {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out LiveScore
	sum := 0.0
	for _, name := range names {
		value, ok := obs[name]
		if !ok {
			continue
		}
		entry := m.Fields[name]
		mag := math.Abs(value)
		if mag <= entry.Threshold {
			continue
		}
		ratio := contributionCap
		if entry.Threshold > 0 {
			ratio = math.Min(mag/entry.Threshold, contributionCap)
		}
		c := entry.Weight * ratio
		sum += c
		out.Active++
		out.Contributions = append(out.Contributions, Contribution{
			Field:        name,
			Value:        value,
			Threshold:    entry.Threshold,
			Weight:       entry.Weight,
			Contribution: c,
		})
	}
	if out.Active == 0 {
		return out
	}
	out.Score = math.Min(sum/float64(out.Active), 1.0)
	out.Confidence = math.Min(float64(out.Active)/confidenceSaturation, 1.0)
	return out
}
