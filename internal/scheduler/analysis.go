package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/pipeline"
)

// Analyzer runs one source file through a full analysis pass.
type Analyzer interface {
	RunFile(ctx context.Context, path string) (*pipeline.Result, error)
}

// AnalysisJob re-analyzes one configured source on its schedule. Every pass
// produces a fresh run; history stays queryable through the store.
type AnalysisJob struct {
	log     zerolog.Logger
	pipe    Analyzer
	path    string
	timeout time.Duration
}

// NewAnalysisJob creates an analysis job for one source file. A zero timeout
// runs without a deadline.
func NewAnalysisJob(pipe Analyzer, path string, timeout time.Duration, log zerolog.Logger) *AnalysisJob {
	return &AnalysisJob{
		log:     log.With().Str("job", "analysis").Str("source", path).Logger(),
		pipe:    pipe,
		path:    path,
		timeout: timeout,
	}
}

// Name returns the job name, unique per source file
func (j *AnalysisJob) Name() string {
	return "analysis:" + filepath.Base(j.path)
}

// Run executes one analysis pass over the source
func (j *AnalysisJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	res, err := j.pipe.RunFile(ctx, j.path)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run", res.Run.ID).
		Bool("passed", res.Run.Passed).
		Int("decisions", len(res.Decisions)).
		Msg("Scheduled analysis completed")
	return nil
}
