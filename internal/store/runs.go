package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tremor/internal/domain"
)

// CreateRun inserts a new run in its starting state.
func (s *Store) CreateRun(run domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, source, started_at, status, passed, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedAt.UnixNano(), string(run.Status),
		boolInt(run.Passed), run.Error,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the terminal state of a run.
func (s *Store) FinishRun(id string, status domain.RunStatus, passed bool, errMsg string, finishedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, passed = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(status), boolInt(passed), errMsg, finishedAt.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetRun loads one run including its skipped-field records.
func (s *Store) GetRun(id string) (domain.Run, error) {
	var (
		run          domain.Run
		started, fin int64
		passed       int
	)
	err := s.db.QueryRow(`
		SELECT id, source, started_at, finished_at, status, passed, error
		FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Source, &started, &fin, &run.Status, &passed, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if fin != 0 {
		run.FinishedAt = time.Unix(0, fin).UTC()
	}
	run.Passed = passed != 0

	skipped, err := s.runSkipped(id)
	if err != nil {
		return domain.Run{}, err
	}
	run.SkippedFields = skipped
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, source, started_at, finished_at, status, passed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var (
			run          domain.Run
			started, fin int64
			passed       int
		)
		if err := rows.Scan(&run.ID, &run.Source, &started, &fin, &run.Status, &passed, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started).UTC()
		if fin != 0 {
			run.FinishedAt = time.Unix(0, fin).UTC()
		}
		run.Passed = passed != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and, through foreign keys, everything it owns.
func (s *Store) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveEvents writes all detected events of one series in a single
// transaction.
func (s *Store) SaveEvents(runID, series string, events []domain.Event) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO events (run_id, series, bar_index, type, strength,
				retracement_level, timeframe, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range events {
			if _, err := stmt.Exec(runID, series, ev.Index, string(ev.Type), ev.Strength,
				ev.RetracementLevel, string(ev.TimeframeClass), ev.Timestamp.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunEvents loads the events of a run in bar order.
func (s *Store) RunEvents(runID string) ([]domain.Event, error) {
	rows, err := s.db.Query(`
		SELECT bar_index, type, strength, retracement_level, timeframe, occurred_at
		FROM events WHERE run_id = ? ORDER BY bar_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("run events %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev domain.Event
			ts int64
		)
		if err := rows.Scan(&ev.Index, &ev.Type, &ev.Strength, &ev.RetracementLevel,
			&ev.TimeframeClass, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveSegments writes the phase segments of one series in a single
// transaction.
func (s *Store) SaveSegments(runID, series string, segments []domain.PhaseSegment) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO phase_segments (run_id, series, event_index, phase,
				start_bar, end_bar, duration, activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, seg := range segments {
			if _, err := stmt.Exec(runID, series, seg.EventIndex, string(seg.Phase),
				seg.Start, seg.End, seg.Duration, seg.ActivityLevel); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunSegments loads the phase segments of a run in timeline order.
func (s *Store) RunSegments(runID string) ([]domain.PhaseSegment, error) {
	rows, err := s.db.Query(`
		SELECT event_index, phase, start_bar, end_bar, duration, activity
		FROM phase_segments WHERE run_id = ? ORDER BY start_bar`, runID)
	if err != nil {
		return nil, fmt.Errorf("run segments %s: %w", runID, err)
	}
	defer rows.Close()

	var segments []domain.PhaseSegment
	for rows.Next() {
		var seg domain.PhaseSegment
		if err := rows.Scan(&seg.EventIndex, &seg.Phase, &seg.Start, &seg.End,
			&seg.Duration, &seg.ActivityLevel); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// SaveFieldScore commits one field score in its own transaction, so a score
// is either fully visible or absent regardless of how the run ends.
func (s *Store) SaveFieldScore(runID, series string, score domain.FieldScore) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO field_scores (run_id, series, field, lag, field_group,
				timeframe, roc_auc, threshold, activations, confirmed, direction, skip_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, series, field, lag, timeframe) DO UPDATE SET
				roc_auc = excluded.roc_auc,
				threshold = excluded.threshold,
				activations = excluded.activations,
				confirmed = excluded.confirmed,
				direction = excluded.direction,
				skip_reason = excluded.skip_reason`,
			runID, series, score.Field.Name, score.Field.Lag, score.Field.Group,
			string(score.TimeframeClass), score.ROCAUC, score.Threshold,
			score.ActivationCount, boolInt(score.Confirmed), score.Direction, score.SkipReason,
		)
		return err
	})
}

// RunScores loads the field scores of a run.
func (s *Store) RunScores(runID string) ([]domain.FieldScore, error) {
	rows, err := s.db.Query(`
		SELECT field, lag, field_group, timeframe, roc_auc, threshold,
			activations, confirmed, direction, skip_reason
		FROM field_scores WHERE run_id = ? ORDER BY timeframe, field, lag`, runID)
	if err != nil {
		return nil, fmt.Errorf("run scores %s: %w", runID, err)
	}
	defer rows.Close()

	var scores []domain.FieldScore
	for rows.Next() {
		var (
			sc        domain.FieldScore
			confirmed int
		)
		if err := rows.Scan(&sc.Field.Name, &sc.Field.Lag, &sc.Field.Group,
			&sc.TimeframeClass, &sc.ROCAUC, &sc.Threshold,
			&sc.ActivationCount, &confirmed, &sc.Direction, &sc.SkipReason); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		sc.Confirmed = confirmed != 0
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// SaveSkipped records the fields a run could not evaluate.
func (s *Store) SaveSkipped(runID string, skipped []domain.SkippedField) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO skipped_fields (run_id, field, timeframe, reason)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sk := range skipped {
			if _, err := stmt.Exec(runID, sk.Field, string(sk.Timeframe), sk.Reason); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) runSkipped(runID string) ([]domain.SkippedField, error) {
	rows, err := s.db.Query(`
		SELECT field, timeframe, reason FROM skipped_fields WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("run skipped %s: %w", runID, err)
	}
	defer rows.Close()

	var skipped []domain.SkippedField
	for rows.Next() {
		var sk domain.SkippedField
		if err := rows.Scan(&sk.Field, &sk.Timeframe, &sk.Reason); err != nil {
			return nil, fmt.Errorf("scan skipped: %w", err)
		}
		skipped = append(skipped, sk)
	}
	return skipped, rows.Err()
}

// SaveVeto stores the veto outcome of a run, replacing any earlier one.
func (s *Store) SaveVeto(runID string, v domain.VetoResult) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO veto_results (run_id, suppressed, blocking)
			VALUES (?, ?, ?)
			ON CONFLICT (run_id) DO UPDATE SET
				suppressed = excluded.suppressed,
				blocking = excluded.blocking`,
			runID, boolInt(v.Suppressed), boolInt(v.Blocking)); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM veto_flags WHERE run_id = ?`, runID); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO veto_flags (run_id, rule, triggered, evidence)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range v.Flags {
			if _, err := stmt.Exec(runID, string(f.Rule), boolInt(f.Triggered), f.Evidence); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunVeto loads the veto outcome of a run.
func (s *Store) RunVeto(runID string) (domain.VetoResult, error) {
	var (
		v                    domain.VetoResult
		suppressed, blocking int
	)
	err := s.db.QueryRow(`
		SELECT suppressed, blocking FROM veto_results WHERE run_id = ?`, runID,
	).Scan(&suppressed, &blocking)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VetoResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.VetoResult{}, fmt.Errorf("run veto %s: %w", runID, err)
	}
	v.Suppressed = suppressed != 0
	v.Blocking = blocking != 0

	rows, err := s.db.Query(`
		SELECT rule, triggered, evidence FROM veto_flags WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return domain.VetoResult{}, fmt.Errorf("run veto flags %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f         domain.VetoFlag
			triggered int
		)
		if err := rows.Scan(&f.Rule, &triggered, &f.Evidence); err != nil {
			return domain.VetoResult{}, fmt.Errorf("scan veto flag: %w", err)
		}
		f.Triggered = triggered != 0
		v.Flags = append(v.Flags, f)
	}
	return v, rows.Err()
}

// SaveDecisions writes the final per-strategy decisions in one transaction.
func (s *Store) SaveDecisions(runID string, decisions []domain.CombinedDecision) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO decisions (run_id, strategy, probability, confidence_bucket,
				vetoed, decided_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range decisions {
			if _, err := stmt.Exec(runID, string(d.Strategy), d.Probability,
				d.ConfidenceBucket, boolInt(d.Vetoed), d.Timestamp.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunDecisions loads the decisions of a run in insertion order.
func (s *Store) RunDecisions(runID string) ([]domain.CombinedDecision, error) {
	rows, err := s.db.Query(`
		SELECT strategy, probability, confidence_bucket, vetoed, decided_at
		FROM decisions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("run decisions %s: %w", runID, err)
	}
	defer rows.Close()

	var decisions []domain.CombinedDecision
	for rows.Next() {
		var (
			d      domain.CombinedDecision
			vetoed int
			ts     int64
		)
		if err := rows.Scan(&d.Strategy, &d.Probability, &d.ConfidenceBucket, &vetoed, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Vetoed = vetoed != 0
		d.Timestamp = time.Unix(0, ts).UTC()
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
