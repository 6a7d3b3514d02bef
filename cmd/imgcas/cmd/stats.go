package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/aweris/imgcas"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	return withEngine(func(eng *imgcas.Engine) error {
		s := eng.Stats()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		fmt.Fprintf(out, "objects:  %d\n", s.UniqueObjects)
		fmt.Fprintf(out, "size:     %s\n", humanize.IBytes(s.TotalBytes))
		fmt.Fprintf(out, "uploads:  %d\n", s.TotalUploads)
		if s.TotalUploads > 0 {
			saved := float64(s.TotalUploads-uint64(s.UniqueObjects)) / float64(s.TotalUploads) * 100
			fmt.Fprintf(out, "dedup:    %.1f%% of uploads reused storage\n", saved)
		}
		return nil
	})
}
