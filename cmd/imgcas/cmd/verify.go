package cmd

import (
	"fmt"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check records against blob files",
	Long:  "Report records whose blob is missing and blob files no record references. With --repair, remove both.",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().Bool("repair", false, "remove records without blobs and unreferenced blobs")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	repair, _ := cmd.Flags().GetBool("repair")
	out := cmd.OutOrStdout()

	return withEngine(func(eng *imgcas.Engine) error {
		report, err := eng.Verify(cmd.Context(), repair)
		if err != nil {
			return err
		}

		for _, d := range report.MissingBlobs {
			fmt.Fprintf(out, "missing blob\t%s\n", d)
		}
		for _, p := range report.OrphanFiles {
			fmt.Fprintf(out, "orphan file\t%s\n", p)
		}
		fmt.Fprintf(out, "%d records, %d files, %d missing, %d orphaned, %d repaired\n",
			report.Records, report.Files, len(report.MissingBlobs), len(report.OrphanFiles), report.Repaired)

		if !report.Consistent() && !repair {
			return fmt.Errorf("store is inconsistent, run with --repair")
		}
		return nil
	})
}
