package cmd

import (
	"fmt"
	"time"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired objects",
	Long:  "Delete every object created before the retention window, once.",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().Duration("window", 0, "retention window (default from config, 24h)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	window := cfg.Retention.Window
	if cmd.Flags().Changed("window") {
		window, _ = cmd.Flags().GetDuration("window")
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive, got %s", window)
	}

	return withEngine(func(eng *imgcas.Engine) error {
		deleted := imgcas.NewSweeper(eng).RunSweep(cmd.Context(), time.Now(), window)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects, %d remaining\n", deleted, eng.Stats().UniqueObjects)
		return nil
	})
}
