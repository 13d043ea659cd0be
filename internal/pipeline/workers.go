package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/tremor/internal/bus"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/features"
	"github.com/aristath/tremor/internal/scoring"
)

// scoreAll evaluates every candidate on a bounded worker group and commits
// each score as it lands. The returned slice matches candidate order
// regardless of completion order. A cancelled context stops workers between
// evaluations; work already committed stays committed.
func (p *Pipeline) scoreAll(ctx context.Context, runID string, series *domain.Series, prog *progressReporter, candidates []features.Candidate, labels []int) ([]scoring.Evaluation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	// Candidate views all cover the same tail rows of the series.
	aligned := labels[series.Len()-len(candidates[0].Values):]

	workers := p.cfg.Analysis.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	evals := make([]scoring.Evaluation, len(candidates))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eval, err := p.scorer.Score(cand, aligned)
			if err != nil &&
				(domain.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return err
			}
			// Success, or a degenerate pair kept as an unconfirmed record.
			evals[i] = eval

			// Commits are serialized so each score is its own transaction
			// and progress counts stay monotonic.
			mu.Lock()
			defer mu.Unlock()
			if err := p.commitScore(runID, series.Name, eval); err != nil {
				return err
			}
			done++
			prog.report(StageScoring, done, len(candidates), "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return evals, nil
}

func (p *Pipeline) commitScore(runID, source string, eval scoring.Evaluation) error {
	if err := p.rec.SaveFieldScore(runID, source, eval.FieldScore); err != nil {
		return fmt.Errorf("save field score %s: %w", eval.Field.Key(), err)
	}
	p.bus.Publish(runID, &bus.FieldScoredData{
		Field:     eval.Field.Key(),
		Timeframe: string(eval.TimeframeClass),
		ROCAUC:    eval.ROCAUC,
		Confirmed: eval.Confirmed,
	})
	return nil
}
