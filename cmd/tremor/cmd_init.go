package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/tremor/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Init writes the full default configuration, including the canonical
field group vocabulary, to tremor.yaml so every tunable is visible and
documented in one place.`,
	RunE: runInit,
}

var (
	initOutput string
	initForce  bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVarP(&initOutput, "output", "o", "tremor.yaml", "Destination path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
		}
	}
	if err := config.WriteDefault(initOutput); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", initOutput)
	return nil
}
