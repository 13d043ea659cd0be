// Package main is the entry point for the Tremor event-detection engine.
// Tremor analyzes financial time series in two timeframe classes, scores
// indicator fields against detected events and combines the surviving
// evidence into per-strategy probabilities.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/tremor/internal/artifacts"
	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/pkg/logger"
)

var (
	configPath   string
	logLevelFlag string
)

// rootCmd is the base command for the Tremor CLI
var rootCmd = &cobra.Command{
	Use:   "tremor",
	Short: "Multi-timeframe event detection and field scoring engine",
	Long: `Tremor detects significant events in financial time series, classifies
the phases around them, scores indicator fields by how well they anticipate
events, and combines the confirmed evidence into per-strategy probabilities
guarded by a veto system.

Sources are candle CSV files (timestamp,open,high,low,close,volume) or
analyzer log files; both carry indicator columns per timeframe.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration (default tremor.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override log level (trace|debug|info|warn|error)")
}

// loadConfig resolves the configuration for a command invocation. Without an
// explicit --config, tremor.yaml in the working directory is used when it
// exists; otherwise pure defaults apply.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("tremor.yaml"); err == nil {
			path = "tremor.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	return cfg, nil
}

// newLogger builds the process logger from the resolved configuration.
func newLogger(cfg *config.Config) zerolog.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	logger.SetGlobalLogger(log)
	return log
}

// newUploader builds the S3 mirror when a bucket is configured. Failures
// degrade to local-only artifacts rather than blocking analysis.
func newUploader(ctx context.Context, cfg *config.Config, log zerolog.Logger) artifacts.Uploader {
	if cfg.Artifacts.S3Bucket == "" {
		return nil
	}
	up, err := artifacts.NewS3Uploader(ctx, cfg.Artifacts, log)
	if err != nil {
		log.Error().Err(err).Msg("S3 uploader unavailable, keeping artifacts local")
		return nil
	}
	return up
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
