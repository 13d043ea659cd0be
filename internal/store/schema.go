package store

// schema is applied in full on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	passed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS events (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	series            TEXT NOT NULL,
	bar_index         INTEGER NOT NULL,
	type              TEXT NOT NULL,
	strength          REAL NOT NULL,
	retracement_level REAL NOT NULL DEFAULT 0,
	timeframe         TEXT NOT NULL,
	occurred_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);

CREATE TABLE IF NOT EXISTS phase_segments (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	series      TEXT NOT NULL,
	event_index INTEGER NOT NULL,
	phase       TEXT NOT NULL,
	start_bar   INTEGER NOT NULL,
	end_bar     INTEGER NOT NULL,
	duration    INTEGER NOT NULL,
	activity    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_run ON phase_segments(run_id);

CREATE TABLE IF NOT EXISTS field_scores (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	series      TEXT NOT NULL,
	field       TEXT NOT NULL,
	lag         INTEGER NOT NULL,
	field_group TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	roc_auc     REAL NOT NULL,
	threshold   REAL NOT NULL,
	activations INTEGER NOT NULL,
	confirmed   INTEGER NOT NULL,
	direction   REAL NOT NULL,
	skip_reason TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, series, field, lag, timeframe)
);
CREATE INDEX IF NOT EXISTS idx_scores_run ON field_scores(run_id);

CREATE TABLE IF NOT EXISTS skipped_fields (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	field     TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	reason    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS veto_results (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	suppressed INTEGER NOT NULL,
	blocking   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS veto_flags (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rule      TEXT NOT NULL,
	triggered INTEGER NOT NULL,
	evidence  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS decisions (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	strategy          TEXT NOT NULL,
	probability       REAL NOT NULL,
	confidence_bucket REAL NOT NULL,
	vetoed            INTEGER NOT NULL,
	decided_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
`
