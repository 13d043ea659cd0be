package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/scoring"
	"github.com/aristath/tremor/internal/store"
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score <field>=<value>...",
	Short: "Score one live observation against a completed run",
	Long: `Score evaluates a single observation against the deployable weight
matrix of a completed run: confirmed lag-zero fields whose current magnitude
clears the validated threshold contribute their weight.

Examples:
  tremor score rd=2.4 md=-1.8
  tremor score --run run-4f1f3b rd=2.4 cvd=0.9`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScore,
}

var scoreRunID string

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreRunID, "run", "", "Run to score against (default: latest completed)")
}

func runScore(cmd *cobra.Command, args []string) error {
	obs, err := parseObservation(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runID := scoreRunID
	if runID == "" {
		runID, err = latestCompletedRun(st)
		if err != nil {
			return err
		}
	} else if _, err := st.GetRun(runID); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	scores, err := st.RunScores(runID)
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	matrix := scoring.NewMatrix(scores)
	if len(matrix.Fields) == 0 {
		return fmt.Errorf("run %s has no confirmed lag-zero fields", runID)
	}

	live := matrix.Score(obs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"run_id": runID, "result": live})
}

// parseObservation turns field=value arguments into an observation map.
func parseObservation(args []string) (map[string]float64, error) {
	obs := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value for %s: %w", name, err)
		}
		obs[name] = v
	}
	return obs, nil
}

// latestCompletedRun returns the newest completed run's ID.
func latestCompletedRun(st *store.Store) (string, error) {
	runs, err := st.ListRuns(0)
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.Status == domain.RunCompleted {
			return run.ID, nil
		}
	}
	return "", fmt.Errorf("no completed run to score against")
}
