package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/aweris/imgcas"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored objects",
	Long:  "List every stored object, oldest first.",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, _ []string) error {
	return withEngine(func(eng *imgcas.Engine) error {
		records := make([]imgcas.ObjectRecord, 0)
		for _, rec := range eng.Snapshot() {
			records = append(records, rec)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(no objects)")
			return nil
		}
		sort.Slice(records, func(i, j int) bool {
			if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
				return records[i].CreatedAt.Before(records[j].CreatedAt)
			}
			return records[i].Digest < records[j].Digest
		})

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDIGEST\tSIZE\tREFS\tCREATED\tNAME")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				rec.LogicalID,
				rec.Digest[:12],
				humanize.IBytes(rec.SizeBytes),
				rec.ReferenceCount,
				humanize.Time(rec.CreatedAt),
				rec.OriginalName,
			)
		}
		return tw.Flush()
	})
}
