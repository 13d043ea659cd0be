// Package domain provides the core types shared by the analysis pipeline.
package domain

import (
	"strconv"
	"time"
)

// TimeframeClass buckets a series into the fast or slow analysis side.
type TimeframeClass string

const (
	// TimeframeLTF covers minute-scale series (fast signals).
	TimeframeLTF TimeframeClass = "LTF"
	// TimeframeHTF covers hour-scale and slower series (slow signals).
	TimeframeHTF TimeframeClass = "HTF"
)

// EventType identifies the detection rule that produced an event.
type EventType string

const (
	EventVolatility    EventType = "volatility"
	EventVolume        EventType = "volume"
	EventPriceChange   EventType = "price_change"
	EventRetracement   EventType = "retracement"
	EventCulmination   EventType = "culmination"
	EventConsolidation EventType = "consolidation"
)

// Phase is one of the five temporal phases anchored around an event.
type Phase string

const (
	PhasePreparation   Phase = "preparation"
	PhaseCulmination   Phase = "culmination"
	PhaseDevelopment   Phase = "development"
	PhaseConsolidation Phase = "consolidation"
	PhaseTransition    Phase = "transition"
)

// Strategy selects how LTF and HTF aggregate probabilities are combined.
type Strategy string

const (
	StrategyLTFPrimary   Strategy = "ltf_primary"
	StrategyHTFPrimary   Strategy = "htf_primary"
	StrategyBalanced     Strategy = "balanced"
	StrategyAdaptive     Strategy = "adaptive"
	StrategyHierarchical Strategy = "hierarchical"
)

// EnsembleMethod selects how per-field probabilities aggregate within a side.
type EnsembleMethod string

const (
	EnsembleWeighted EnsembleMethod = "weighted"
	EnsembleVoting   EnsembleMethod = "voting"
	EnsembleStacking EnsembleMethod = "stacking"
)

// VetoRule identifies a blocking condition evaluated by the veto engine.
type VetoRule string

const (
	VetoHighVolatility     VetoRule = "high_volatility"
	VetoConflictingSignals VetoRule = "conflicting_signals"
	VetoLowConfidence      VetoRule = "low_confidence"
)

// Bar is a single OHLCV observation.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered sequence of bars plus derived field columns aligned by
// bar index. It is immutable once ingested; every pipeline component reads it,
// none mutates it.
type Series struct {
	Name      string               `json:"name"`
	Interval  time.Duration        `json:"interval"`
	Class     TimeframeClass       `json:"class"`
	Bars      []Bar                `json:"bars"`
	Fields    map[string][]float64 `json:"fields,omitempty"`
	Malformed int                  `json:"malformed,omitempty"` // input lines skipped during ingest
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Field returns the named derived column, or nil if absent.
func (s *Series) Field(name string) []float64 {
	if s.Fields == nil {
		return nil
	}
	return s.Fields[name]
}

// Closes extracts the close column.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume column.
func (s *Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Event is a detected market event. Events are immutable; downstream
// components reference them by index into the run's event slice.
type Event struct {
	Timestamp        time.Time      `json:"timestamp"`
	Index            int            `json:"index"` // bar index within the series
	Type             EventType      `json:"type"`
	Strength         float64        `json:"strength"`
	RetracementLevel float64        `json:"retracement_level,omitempty"` // 2,3,5,7,10; half-open buckets
	TimeframeClass   TimeframeClass `json:"timeframe_class"`
}

// PhaseSegment is one contiguous phase interval anchored to an event.
// Segments of one event never overlap and appear in canonical order.
type PhaseSegment struct {
	EventIndex    int     `json:"event_index"`
	Phase         Phase   `json:"phase"`
	Start         int     `json:"start"` // inclusive bar index
	End           int     `json:"end"`   // exclusive bar index
	Duration      int     `json:"duration"`
	ActivityLevel float64 `json:"activity_level"`
}

// CandidateField describes one surviving feature after selection. Columns live
// in the selector's arena, addressed by ID, so scoring loops never touch
// string keys.
type CandidateField struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
	Lag   int    `json:"lag"`
}

// Key returns the canonical field identifier, e.g. "rd[lag=3]".
func (f CandidateField) Key() string {
	if f.Lag == 0 {
		return f.Name
	}
	return f.Name + "[lag=" + strconv.Itoa(f.Lag) + "]"
}

// FieldScore is the cross-validated result for one (field, timeframe) pair.
// Unconfirmed scores are kept for diagnostics but never feed combination.
type FieldScore struct {
	Field           CandidateField `json:"field"`
	TimeframeClass  TimeframeClass `json:"timeframe_class"`
	ROCAUC          float64        `json:"roc_auc"`
	Threshold       float64        `json:"threshold"`
	ActivationCount int            `json:"activation_count"`
	Confirmed       bool           `json:"confirmed"`
	Direction       float64        `json:"direction"` // +1 rises with events, -1 falls
	SkipReason      string         `json:"skip_reason,omitempty"`
}

// VetoFlag is the outcome of one veto rule over the current window.
type VetoFlag struct {
	Rule      VetoRule `json:"rule"`
	Triggered bool     `json:"triggered"`
	Evidence  string   `json:"evidence,omitempty"`
}

// VetoResult aggregates all rule outcomes for one evaluation window.
type VetoResult struct {
	Flags      []VetoFlag `json:"flags"`
	Suppressed bool       `json:"suppressed"` // fewer than min confirming signals agree
	Blocking   bool       `json:"blocking"`   // false => observe-only, never gates output
}

// Triggered reports whether the named rule fired.
func (v VetoResult) Triggered(rule VetoRule) bool {
	for _, f := range v.Flags {
		if f.Rule == rule {
			return f.Triggered
		}
	}
	return false
}

// Vetoed reports whether the result suppresses a decision. Flags only block
// when the engine runs in blocking mode.
func (v VetoResult) Vetoed() bool {
	if !v.Blocking {
		return false
	}
	if v.Suppressed {
		return true
	}
	for _, f := range v.Flags {
		if f.Triggered {
			return true
		}
	}
	return false
}

// CombinedDecision is the final per-strategy output. A vetoed decision still
// carries its probability for audit; consumers must treat it as
// non-actionable.
type CombinedDecision struct {
	Timestamp        time.Time `json:"timestamp"`
	Strategy         Strategy  `json:"strategy"`
	Probability      float64   `json:"probability"`
	ConfidenceBucket float64   `json:"confidence_bucket"`
	Vetoed           bool      `json:"vetoed"`
}

// RunStatus tracks the lifecycle of one analysis run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// SkippedField records a (field, timeframe) pair the scorer could not confirm
// or evaluate, with the reason surfaced to the user.
type SkippedField struct {
	Field     string         `json:"field"`
	Timeframe TimeframeClass `json:"timeframe"`
	Reason    string         `json:"reason"`
}

// Run is one end-to-end analysis over a set of sources.
type Run struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at,omitempty"`
	Status        RunStatus      `json:"status"`
	Passed        bool           `json:"passed"`
	Error         string         `json:"error,omitempty"`
	SkippedFields []SkippedField `json:"skipped_fields,omitempty"`
}

// RunSummary is the aggregate view persisted and exported after a run.
type RunSummary struct {
	RunID        string             `json:"run_id"`
	EventCounts  map[EventType]int  `json:"event_counts"`
	PhaseCounts  map[Phase]int      `json:"phase_counts"`
	ConfirmedLTF int                `json:"confirmed_ltf"`
	ConfirmedHTF int                `json:"confirmed_htf"`
	Decisions    []CombinedDecision `json:"decisions"`
	VetoCounts   map[VetoRule]int   `json:"veto_counts"`
	Accuracy     float64            `json:"accuracy"`
	Lift         float64            `json:"lift"`
	Passed       bool               `json:"passed"`
}
