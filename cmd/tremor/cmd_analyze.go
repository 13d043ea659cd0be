package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/tremor/internal/artifacts"
	"github.com/aristath/tremor/internal/bus"
	"github.com/aristath/tremor/internal/cache"
	"github.com/aristath/tremor/internal/pipeline"
	"github.com/aristath/tremor/internal/store"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <source>...",
	Short: "Run a full analysis pass over one or more source files",
	Long: `Analyze runs each source through the full pipeline: event detection,
phase classification, feature selection, field scoring, veto evaluation and
combined decisions. Results are persisted to the run store and exported as
JSON artifacts.

Examples:
  tremor analyze data/eurusd_5m.csv
  tremor analyze logs/session.log --legacy
  tremor analyze data/*.csv --workers 4 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeLegacy      bool
	analyzeWorkers     int
	analyzeJSON        bool
	analyzeDryRun      bool
	analyzeNoArtifacts bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVar(&analyzeLegacy, "legacy", false, "Simplified single-timeframe pass with fixed phase windows")
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "Scoring worker count (0 = all CPUs)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print run summaries as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Analyze without persisting runs or artifacts")
	analyzeCmd.Flags().BoolVar(&analyzeNoArtifacts, "no-artifacts", false, "Skip JSON artifact export")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if analyzeLegacy {
		cfg.Analysis.LegacyMode = true
	}
	if analyzeWorkers > 0 {
		cfg.Analysis.Workers = analyzeWorkers
	}
	log := newLogger(cfg)

	var rec pipeline.Recorder = pipeline.NopRecorder{}
	if !analyzeDryRun {
		st, err := store.Open(cfg.Store, log)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		rec = st
	}

	b := bus.NewBus(log)
	pipe := pipeline.New(cfg, rec, b, log)
	if cfg.Cache.Dir != "" {
		pipe.UseCache(cache.New(cfg.Cache.Dir, log))
	}

	var writer *artifacts.Writer
	if !analyzeDryRun && !analyzeNoArtifacts {
		writer = artifacts.NewWriter(cfg.Artifacts, newUploader(cmd.Context(), cfg, log), log)
	}

	// Ctrl+C aborts the current pass; committed scores stay committed.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failures := 0
	for _, src := range args {
		res, err := pipe.RunFile(ctx, src)
		if err != nil {
			log.Error().Err(err).Str("source", src).Msg("analysis failed")
			failures++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if writer != nil {
			if err := writer.WriteRun(ctx, res); err != nil {
				log.Error().Err(err).Str("run", res.Run.ID).Msg("artifact export failed")
			}
		}
		printSummary(res, analyzeJSON)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d sources failed", failures, len(args))
	}
	return nil
}

// printSummary renders one run result on stdout.
func printSummary(res *pipeline.Result, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res.Summary)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", res.Run.ID)
	fmt.Fprintf(w, "source\t%s\n", res.Run.Source)
	fmt.Fprintf(w, "events\t%d\n", len(res.Events))
	fmt.Fprintf(w, "segments\t%d\n", len(res.Segments))
	fmt.Fprintf(w, "confirmed\t%d fast / %d slow\n", res.Summary.ConfirmedLTF, res.Summary.ConfirmedHTF)
	fmt.Fprintf(w, "skipped\t%d\n", len(res.Skipped))
	fmt.Fprintf(w, "accuracy\t%.3f\n", res.Summary.Accuracy)
	fmt.Fprintf(w, "lift\t%.2f\n", res.Summary.Lift)
	fmt.Fprintf(w, "passed\t%v\n", res.Summary.Passed)
	if res.Veto.Vetoed() {
		fmt.Fprintf(w, "vetoed\ttrue\n")
	}
	for _, d := range res.Decisions {
		fmt.Fprintf(w, "decision\t%s\tp=%.3f\tbucket=%.1f\n", d.Strategy, d.Probability, d.ConfidenceBucket)
	}
	w.Flush()
	fmt.Println()
}
