package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/tremor/internal/artifacts"
	"github.com/aristath/tremor/internal/bus"
	"github.com/aristath/tremor/internal/cache"
	"github.com/aristath/tremor/internal/pipeline"
	"github.com/aristath/tremor/internal/scheduler"
	"github.com/aristath/tremor/internal/server"
	"github.com/aristath/tremor/internal/store"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled re-analysis",
	Long: `Serve starts the HTTP API for run management, live event streaming
(SSE and websocket), health and Prometheus metrics. Sources configured under
schedule: are re-analyzed on their cron expressions, and a nightly
maintenance job checkpoints the store and prunes stale snapshots.

Examples:
  tremor serve
  tremor serve --port 9000 --config /etc/tremor/tremor.yaml`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides configuration)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	log := newLogger(cfg)

	log.Info().Msg("Starting Tremor")

	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	b := bus.NewBus(log)
	pipe := pipeline.New(cfg, st, b, log)

	var snapshots *cache.Snapshots
	if cfg.Cache.Dir != "" {
		snapshots = cache.New(cfg.Cache.Dir, log)
		pipe.UseCache(snapshots)
	}

	// Completed scheduled runs are exported like CLI runs, so both paths
	// leave the same artifacts behind.
	writer := artifacts.NewWriter(cfg.Artifacts, newUploader(cmd.Context(), cfg, log), log)

	sched := scheduler.New(log)
	for _, src := range cfg.Schedule {
		job := scheduler.NewAnalysisJob(
			exportingAnalyzer{pipe: pipe, writer: writer},
			src.Path,
			time.Duration(src.TimeoutMinutes)*time.Minute,
			log,
		)
		if err := sched.AddJob(src.Cron, job); err != nil {
			return err
		}
	}
	maintenance := scheduler.NewMaintenanceJob(st, snapshots, time.Duration(cfg.Cache.MaxAgeHours)*time.Hour, log)
	if err := sched.AddJob("0 30 3 * * *", maintenance); err != nil {
		return err
	}
	sched.Start()

	srv := server.New(cfg, st, pipe, b, log)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("server: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down...")

	sched.Stop()

	// In-flight requests get up to 10 seconds to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// exportingAnalyzer writes artifacts after each successful scheduled pass.
type exportingAnalyzer struct {
	pipe   *pipeline.Pipeline
	writer *artifacts.Writer
}

func (a exportingAnalyzer) RunFile(ctx context.Context, path string) (*pipeline.Result, error) {
	res, err := a.pipe.RunFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := a.writer.WriteRun(ctx, res); err != nil {
		return nil, fmt.Errorf("export artifacts: %w", err)
	}
	return res, nil
}
