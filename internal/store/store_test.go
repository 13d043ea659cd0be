package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "data", "test.db")}
	s, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(id string, started time.Time) domain.Run {
	return domain.Run{
		ID:        id,
		Source:    "testdata/sample.log",
		StartedAt: started,
		Status:    domain.RunRunning,
	}
}

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	s := newTestStore(t)

	_, err := os.Stat(s.Path())
	require.NoError(t, err, "database file should exist")
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(testRun("run-1", started)))

	run, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.True(t, run.StartedAt.Equal(started))
	assert.True(t, run.FinishedAt.IsZero())
	assert.False(t, run.Passed)

	finished := started.Add(42 * time.Second)
	require.NoError(t, s.FinishRun("run-1", domain.RunCompleted, true, "", finished))

	run, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.True(t, run.FinishedAt.Equal(finished))
	assert.True(t, run.Passed)
}

func TestRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.FinishRun("missing", domain.RunFailed, false, "boom", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.DeleteRun("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(testRun("run-old", base)))
	require.NoError(t, s.CreateRun(testRun("run-new", base.Add(time.Hour))))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)
}

func TestEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRun(testRun("run-1", base)))

	events := []domain.Event{
		{Timestamp: base.Add(9 * time.Minute), Index: 9, Type: domain.EventVolume, Strength: 1.7, TimeframeClass: domain.TimeframeLTF},
		{Timestamp: base.Add(3 * time.Minute), Index: 3, Type: domain.EventRetracement, Strength: 2.1, RetracementLevel: 5, TimeframeClass: domain.TimeframeLTF},
	}
	require.NoError(t, s.SaveEvents("run-1", "sample", events))

	got, err := s.RunEvents("run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Loaded in bar order regardless of insertion order.
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, domain.EventRetracement, got[0].Type)
	assert.Equal(t, 5.0, got[0].RetracementLevel)
	assert.Equal(t, 9, got[1].Index)
	assert.True(t, got[1].Timestamp.Equal(events[0].Timestamp))
}

func TestSegmentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(testRun("run-1", time.Now())))

	segments := []domain.PhaseSegment{
		{EventIndex: 0, Phase: domain.PhasePreparation, Start: 10, End: 40, Duration: 30, ActivityLevel: 0.25},
		{EventIndex: 0, Phase: domain.PhaseCulmination, Start: 40, End: 43, Duration: 3, ActivityLevel: 0.8},
	}
	require.NoError(t, s.SaveSegments("run-1", "sample", segments))

	got, err := s.RunSegments("run-1")
	require.NoError(t, err)
	assert.Equal(t, segments, got)
}

func TestFieldScoreUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(testRun("run-1", time.Now())))

	score := domain.FieldScore{
		Field:          domain.CandidateField{Name: "rd5", Group: "group_1", Lag: 2},
		TimeframeClass: domain.TimeframeLTF,
		ROCAUC:         0.61,
		Threshold:      1.5,
	}
	require.NoError(t, s.SaveFieldScore("run-1", "sample", score))

	score.ROCAUC = 0.72
	score.Confirmed = true
	score.Direction = 1
	score.ActivationCount = 14
	require.NoError(t, s.SaveFieldScore("run-1", "sample", score))

	got, err := s.RunScores("run-1")
	require.NoError(t, err)
	require.Len(t, got, 1, "second save replaces the first")
	assert.Equal(t, 0.72, got[0].ROCAUC)
	assert.True(t, got[0].Confirmed)
	assert.Equal(t, 1.0, got[0].Direction)
	assert.Equal(t, "rd5", got[0].Field.Name)
	assert.Equal(t, 2, got[0].Field.Lag)
}

func TestVetoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(testRun("run-1", time.Now())))

	v := domain.VetoResult{
		Flags: []domain.VetoFlag{
			{Rule: domain.VetoHighVolatility, Triggered: true, Evidence: "volatility 3.20% against limit 3.00%"},
			{Rule: domain.VetoLowConfidence, Triggered: false, Evidence: "top probability 0.610 against floor 0.300"},
		},
		Suppressed: false,
		Blocking:   true,
	}
	require.NoError(t, s.SaveVeto("run-1", v))

	// Saving again replaces the flag set rather than appending.
	require.NoError(t, s.SaveVeto("run-1", v))

	got, err := s.RunVeto("run-1")
	require.NoError(t, err)
	assert.Equal(t, v, got)
	assert.True(t, got.Vetoed())
}

func TestDecisionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(testRun("run-1", time.Now())))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	decisions := []domain.CombinedDecision{
		{Timestamp: ts, Strategy: domain.StrategyLTFPrimary, Probability: 0.74, ConfidenceBucket: 0.7},
		{Timestamp: ts, Strategy: domain.StrategyBalanced, Probability: 0.7, ConfidenceBucket: 0.7, Vetoed: true},
	}
	require.NoError(t, s.SaveDecisions("run-1", decisions))

	got, err := s.RunDecisions("run-1")
	require.NoError(t, err)
	assert.Equal(t, decisions, got)
}

func TestSkippedFieldsLoadWithRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(testRun("run-1", time.Now())))

	skipped := []domain.SkippedField{
		{Field: "cd5[lag=3]", Timeframe: domain.TimeframeLTF, Reason: "zero variance in validation split"},
	}
	require.NoError(t, s.SaveSkipped("run-1", skipped))

	run, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, skipped, run.SkippedFields)
}

func TestDeleteRunCascades(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	require.NoError(t, s.CreateRun(testRun("run-1", base)))
	require.NoError(t, s.SaveEvents("run-1", "sample", []domain.Event{
		{Timestamp: base, Index: 1, Type: domain.EventVolatility, Strength: 2.5, TimeframeClass: domain.TimeframeLTF},
	}))
	require.NoError(t, s.SaveDecisions("run-1", []domain.CombinedDecision{
		{Timestamp: base, Strategy: domain.StrategyBalanced, Probability: 0.5},
	}))

	require.NoError(t, s.DeleteRun("run-1"))

	_, err := s.GetRun("run-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := s.RunEvents("run-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	decisions, err := s.RunDecisions("run-1")
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
