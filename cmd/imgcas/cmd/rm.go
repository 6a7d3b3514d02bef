package cmd

import (
	"fmt"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <digest>...",
	Short: "Remove objects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withEngine(func(eng *imgcas.Engine) error {
		for _, digest := range args {
			ok, err := eng.Delete(cmd.Context(), digest)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "deleted\t%s\n", digest)
			} else {
				fmt.Fprintf(out, "not found\t%s\n", digest)
			}
		}
		return nil
	})
}
