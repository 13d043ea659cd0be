// Package pipeline runs one full analysis pass over a series: event
// detection, phase classification, feature selection, parallel field
// scoring, veto evaluation and combined decisions. Stage output is
// persisted as soon as it exists, so an aborted run keeps everything it
// finished.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/bus"
	"github.com/aristath/tremor/internal/cache"
	"github.com/aristath/tremor/internal/combined"
	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/events"
	"github.com/aristath/tremor/internal/features"
	"github.com/aristath/tremor/internal/ingest"
	"github.com/aristath/tremor/internal/phase"
	"github.com/aristath/tremor/internal/scoring"
	"github.com/aristath/tremor/internal/veto"
)

// Progress stage names carried on RUN_PROGRESS events.
const (
	StageEvents    = "events"
	StagePhases    = "phases"
	StageSelection = "selection"
	StageScoring   = "scoring"
	StageDecision  = "decision"
)

// Recorder persists run artifacts as stages complete. *store.Store
// satisfies it; NopRecorder runs the analysis without keeping anything.
type Recorder interface {
	CreateRun(run domain.Run) error
	FinishRun(id string, status domain.RunStatus, passed bool, errMsg string, finishedAt time.Time) error
	SaveEvents(runID, series string, events []domain.Event) error
	SaveSegments(runID, series string, segments []domain.PhaseSegment) error
	SaveFieldScore(runID, series string, score domain.FieldScore) error
	SaveSkipped(runID string, skipped []domain.SkippedField) error
	SaveVeto(runID string, v domain.VetoResult) error
	SaveDecisions(runID string, decisions []domain.CombinedDecision) error
}

// NopRecorder discards everything. Useful for dry runs and tests.
type NopRecorder struct{}

func (NopRecorder) CreateRun(domain.Run) error { return nil }
func (NopRecorder) FinishRun(string, domain.RunStatus, bool, string, time.Time) error {
	return nil
}
func (NopRecorder) SaveEvents(string, string, []domain.Event) error            { return nil }
func (NopRecorder) SaveSegments(string, string, []domain.PhaseSegment) error   { return nil }
func (NopRecorder) SaveFieldScore(string, string, domain.FieldScore) error     { return nil }
func (NopRecorder) SaveSkipped(string, []domain.SkippedField) error            { return nil }
func (NopRecorder) SaveVeto(string, domain.VetoResult) error                   { return nil }
func (NopRecorder) SaveDecisions(string, []domain.CombinedDecision) error      { return nil }

// Result is everything one run produced, in memory. The same artifacts are
// readable back from the recorder by run ID.
type Result struct {
	Run       domain.Run
	Events    []domain.Event
	Segments  []domain.PhaseSegment
	Scores    []domain.FieldScore
	Skipped   []domain.SkippedField
	Veto      domain.VetoResult
	Decisions []domain.CombinedDecision
	Matrix    *scoring.Matrix
	Summary   domain.RunSummary
}

// Pipeline wires the stages together. All components are stateless after
// construction, so one Pipeline may run concurrent analyses as long as each
// call gets its own series.
type Pipeline struct {
	cfg       *config.Config
	parser    *ingest.LogParser
	separator *ingest.Separator
	detector  *events.Detector
	phases    *phase.Classifier
	selector  *features.Selector
	scorer    *scoring.Scorer
	vetoes    *veto.Engine
	combiner  *combined.Combiner
	rec       Recorder
	bus       *bus.Bus
	cache     *cache.Snapshots
	log       zerolog.Logger
}

// New builds a pipeline. rec may be nil to skip persistence; b may be nil
// when nothing listens.
func New(cfg *config.Config, rec Recorder, b *bus.Bus, log zerolog.Logger) *Pipeline {
	if cfg.Analysis.LegacyMode {
		cfg = legacyConfig(cfg)
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	if b == nil {
		b = bus.NewBus(log)
	}
	separator := ingest.NewSeparator(cfg.LTFHTF)
	var classes features.Classifier = separator
	if !cfg.Analysis.EnableLTFHTF {
		classes = flatClasses{inner: separator}
	}
	return &Pipeline{
		cfg:       cfg,
		parser:    ingest.NewLogParser(log),
		separator: separator,
		detector:  events.NewDetector(cfg.EventDetection, cfg.AdvancedEvents, cfg.Analysis.EnableAdvancedEvents, log),
		phases:    phase.NewClassifier(cfg.PhaseAnalysis, log),
		selector:  features.NewSelector(cfg.FeatureSelection, cfg.Analysis.MaxFeatures, cfg.FieldGroups, classes, log),
		scorer:    scoring.NewScorer(cfg.Scoring, cfg.Analysis, cfg.EventDetection.ExtremeQuantile, log),
		vetoes:    veto.NewEngine(cfg.VetoSystem, log),
		combiner:  combined.NewCombiner(cfg.CombinedScoring, cfg.Scoring, cfg.VetoSystem.Thresholds.LowConfidence, log),
		rec:       rec,
		bus:       b,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// UseCache memoizes parsed sources between runs. Snapshots hold the series
// exactly as ingested; per-run transforms happen on the decoded copy.
func (p *Pipeline) UseCache(c *cache.Snapshots) { p.cache = c }

// RunFile loads a source file and analyzes it. Candle CSVs and analyzer
// logs are both accepted. A file that fails to load still leaves a failed
// run row behind, so scheduled sources surface their breakage.
func (p *Pipeline) RunFile(ctx context.Context, path string) (*Result, error) {
	if p.cache != nil {
		if series, ok := p.cache.Load(path); ok {
			return p.Run(ctx, series)
		}
	}
	series, err := ingest.Load(path, p.parser)
	if err != nil {
		run := domain.Run{ID: runIDFor(ctx), Source: path, StartedAt: time.Now().UTC(), Status: domain.RunRunning}
		if recErr := p.rec.CreateRun(run); recErr == nil {
			_ = p.rec.FinishRun(run.ID, domain.RunFailed, false, err.Error(), time.Now().UTC())
			p.bus.Publish(run.ID, &bus.RunFinishedData{Status: domain.RunFailed, Error: err.Error()})
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if p.cache != nil {
		if err := p.cache.Store(path, series); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("snapshot write failed")
		}
	}
	return p.Run(ctx, series)
}

// Run analyzes one series end to end. The run row always reaches a
// terminal status: completed, failed on a fatal error, or aborted when ctx
// is cancelled. Scores committed before an abort stay committed.
func (p *Pipeline) Run(ctx context.Context, series *domain.Series) (*Result, error) {
	started := time.Now().UTC()
	run := domain.Run{ID: runIDFor(ctx), Source: series.Name, StartedAt: started, Status: domain.RunRunning}
	if err := p.rec.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	p.bus.Publish(run.ID, &bus.RunStartedData{Source: series.Name})
	p.log.Info().
		Str("run", run.ID).
		Str("source", series.Name).
		Int("bars", series.Len()).
		Bool("legacy", p.cfg.Analysis.LegacyMode).
		Msg("run started")

	res, err := p.analyze(ctx, run.ID, series)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		status := domain.RunFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = domain.RunAborted
		}
		if finErr := p.rec.FinishRun(run.ID, status, false, err.Error(), time.Now().UTC()); finErr != nil {
			p.log.Error().Err(finErr).Str("run", run.ID).Msg("finish run failed")
		}
		p.bus.Publish(run.ID, &bus.RunFinishedData{Status: status, Error: err.Error(), Elapsed: elapsed})
		p.log.Warn().Err(err).Str("run", run.ID).Str("status", string(status)).Msg("run did not complete")
		return nil, err
	}

	run.Status = domain.RunCompleted
	run.FinishedAt = time.Now().UTC()
	run.Passed = res.Summary.Passed
	run.SkippedFields = res.Skipped
	if err := p.rec.FinishRun(run.ID, run.Status, run.Passed, "", run.FinishedAt); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	res.Run = run
	p.bus.Publish(run.ID, &bus.RunFinishedData{Status: run.Status, Passed: run.Passed, Elapsed: elapsed})
	p.log.Info().
		Str("run", run.ID).
		Bool("passed", run.Passed).
		Int("decisions", len(res.Decisions)).
		Float64("elapsed_s", elapsed).
		Msg("run finished")
	return res, nil
}

// analyze executes the stage sequence for an already created run. Cancelled
// contexts surface as the context error so Run can mark the row aborted.
func (p *Pipeline) analyze(ctx context.Context, runID string, series *domain.Series) (*Result, error) {
	prog := newProgressReporter(p.bus, runID)
	res := &Result{}

	// HTF columns are shifted before anything reads them.
	if p.cfg.Analysis.EnableLTFHTF {
		p.separator.ApplyTemporalLagFix(series)
	}

	prog.report(StageEvents, 0, 1, "detecting events")
	res.Events = p.detector.Detect(series)
	if err := p.rec.SaveEvents(runID, series.Name, res.Events); err != nil {
		return nil, fmt.Errorf("save events: %w", err)
	}
	prog.report(StageEvents, 1, 1, "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog.report(StagePhases, 0, 1, "classifying phases")
	if p.cfg.Analysis.LegacyMode {
		res.Segments = legacySegments(res.Events, series.Len())
	} else {
		res.Segments = p.phases.Classify(series, res.Events)
	}
	if err := p.rec.SaveSegments(runID, series.Name, res.Segments); err != nil {
		return nil, fmt.Errorf("save segments: %w", err)
	}
	prog.report(StagePhases, 1, 1, "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog.report(StageSelection, 0, 1, "selecting features")
	labels := scoring.Labels(series.Len(), res.Events, res.Segments)
	candidates, err := p.selector.Select(series)
	if err != nil {
		if domain.IsFatal(err) {
			return nil, err
		}
		// Too little data for any candidate. The run still completes and
		// reports the floor decision.
		p.log.Warn().Err(err).Str("run", runID).Msg("feature selection skipped")
		candidates = nil
	}
	prog.report(StageSelection, 1, 1, strconv.Itoa(len(candidates))+" candidates")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evals, err := p.scoreAll(ctx, runID, series, prog, candidates, labels)
	if err != nil {
		return nil, err
	}
	res.Scores = make([]domain.FieldScore, len(evals))
	for i, ev := range evals {
		res.Scores[i] = ev.FieldScore
		if ev.SkipReason != "" {
			res.Skipped = append(res.Skipped, domain.SkippedField{
				Field:     ev.Field.Key(),
				Timeframe: ev.TimeframeClass,
				Reason:    ev.SkipReason,
			})
		}
	}
	if err := p.rec.SaveSkipped(runID, res.Skipped); err != nil {
		return nil, fmt.Errorf("save skipped: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog.report(StageDecision, 0, 1, "combining decisions")
	res.Veto, res.Decisions = p.decide(runID, series, res.Scores, evals)
	if err := p.rec.SaveVeto(runID, res.Veto); err != nil {
		return nil, fmt.Errorf("save veto: %w", err)
	}
	if err := p.rec.SaveDecisions(runID, res.Decisions); err != nil {
		return nil, fmt.Errorf("save decisions: %w", err)
	}
	p.bus.Publish(runID, &bus.DecisionData{Decisions: res.Decisions})
	prog.report(StageDecision, 1, 1, "")

	res.Matrix = scoring.NewMatrix(res.Scores)
	accuracy, lift, passed := p.validateRun(candidates, res.Scores, labels)
	res.Summary = summarize(runID, res, accuracy, lift, passed)
	return res, nil
}

// decide turns the scored evidence into final decisions. Probabilities are
// combined first with a clean veto, then the veto engine judges the best of
// them, and only the Vetoed flag is stamped afterwards. Probabilities never
// depend on the veto outcome.
func (p *Pipeline) decide(runID string, series *domain.Series, scores []domain.FieldScore, evals []scoring.Evaluation) (domain.VetoResult, []domain.CombinedDecision) {
	ts := decisionTime(series)
	if p.cfg.Analysis.LegacyMode {
		return domain.VetoResult{}, []domain.CombinedDecision{p.combiner.Aggregate(ts, scores)}
	}

	decisions := p.combiner.Combine(ts, stackingEvidence(scores, evals), domain.VetoResult{})

	var vetoRes domain.VetoResult
	if p.cfg.Analysis.EnableVetoSystem {
		vetoRes = p.vetoes.Evaluate(veto.Inputs{
			Scores:         scores,
			Volatility:     phase.CurrentVolatility(series, p.cfg.PhaseAnalysis.DetectionWindow),
			TopProbability: topProbability(decisions),
		})
		raised := vetoRes.Suppressed
		for _, f := range vetoRes.Flags {
			raised = raised || f.Triggered
		}
		if raised {
			p.bus.Publish(runID, &bus.VetoRaisedData{
				Vetoed:     vetoRes.Vetoed(),
				Suppressed: vetoRes.Suppressed,
				Flags:      vetoRes.Flags,
			})
		}
	}
	for i := range decisions {
		decisions[i].Vetoed = vetoRes.Vetoed()
	}
	return vetoRes, decisions
}

// stackingEvidence packages confirmed validation artifacts for the
// ensemble. Labels are identical across evaluations because every candidate
// covers the same rows.
func stackingEvidence(scores []domain.FieldScore, evals []scoring.Evaluation) combined.Evidence {
	ev := combined.Evidence{Scores: scores}
	for _, e := range evals {
		if !e.Confirmed || len(e.ValProbs) == 0 {
			continue
		}
		if ev.Probs == nil {
			ev.Probs = make(map[string][]float64)
			ev.Labels = e.ValLabels
		}
		ev.Probs[e.Field.Key()] = e.ValProbs
	}
	return ev
}

func summarize(runID string, res *Result, accuracy, lift float64, passed bool) domain.RunSummary {
	sum := domain.RunSummary{
		RunID:       runID,
		EventCounts: make(map[domain.EventType]int),
		PhaseCounts: make(map[domain.Phase]int),
		Decisions:   res.Decisions,
		VetoCounts:  make(map[domain.VetoRule]int),
		Accuracy:    accuracy,
		Lift:        lift,
		Passed:      passed,
	}
	for _, e := range res.Events {
		sum.EventCounts[e.Type]++
	}
	for _, s := range res.Segments {
		sum.PhaseCounts[s.Phase]++
	}
	for _, s := range res.Scores {
		if !s.Confirmed {
			continue
		}
		if s.TimeframeClass == domain.TimeframeHTF {
			sum.ConfirmedHTF++
		} else {
			sum.ConfirmedLTF++
		}
	}
	for _, f := range res.Veto.Flags {
		if f.Triggered {
			sum.VetoCounts[f.Rule]++
		}
	}
	return sum
}

// decisionTime is the moment the decision speaks for: the close of the last
// bar, not the wall clock, so re-running a file reproduces its output.
func decisionTime(series *domain.Series) time.Time {
	if n := series.Len(); n > 0 {
		return series.Bars[n-1].Timestamp
	}
	return time.Now().UTC()
}

func topProbability(decisions []domain.CombinedDecision) float64 {
	top := 0.0
	for _, d := range decisions {
		if d.Probability > top {
			top = d.Probability
		}
	}
	return top
}

type runIDKey struct{}

// WithRunID pins the run identifier for the next Run call on this context.
// Callers that respond before the run starts use it to hand out the ID early.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// runIDFor returns the pinned run ID or mints a fresh one.
func runIDFor(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return "run-" + uuid.NewString()
}

// flatClasses pins every recognized field to the fast class when the
// timeframe split is disabled, so all evidence lands on one side.
type flatClasses struct {
	inner *ingest.Separator
}

func (f flatClasses) ClassForField(name string) (domain.TimeframeClass, bool) {
	if _, ok := f.inner.ClassForField(name); !ok {
		return "", false
	}
	return domain.TimeframeLTF, true
}
