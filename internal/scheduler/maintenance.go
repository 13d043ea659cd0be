package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/cache"
	"github.com/aristath/tremor/internal/store"
)

// MaintenanceJob compacts the database and expires stale series snapshots.
// Vacuum rewrites the whole database file, so this belongs in a quiet window.
type MaintenanceJob struct {
	log    zerolog.Logger
	store  *store.Store
	cache  *cache.Snapshots
	maxAge time.Duration
}

// NewMaintenanceJob creates a new maintenance job. The cache may be nil when
// snapshot caching is disabled.
func NewMaintenanceJob(st *store.Store, c *cache.Snapshots, maxAge time.Duration, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		log:    log.With().Str("job", "maintenance").Logger(),
		store:  st,
		cache:  c,
		maxAge: maxAge,
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run checkpoints the WAL, vacuums the database and purges expired snapshots
func (j *MaintenanceJob) Run() error {
	start := time.Now()

	if err := j.store.WALCheckpoint(); err != nil {
		return err
	}
	if err := j.store.Vacuum(); err != nil {
		return err
	}

	removed := 0
	if j.cache != nil && j.maxAge > 0 {
		n, err := j.cache.Purge(j.maxAge)
		if err != nil {
			// Snapshots regenerate on demand, so a failed purge only costs
			// disk space until the next pass.
			j.log.Warn().Err(err).Msg("Snapshot purge failed")
		}
		removed = n
	}

	j.log.Info().
		Int("snapshots_removed", removed).
		Dur("elapsed", time.Since(start)).
		Msg("Maintenance completed")
	return nil
}
