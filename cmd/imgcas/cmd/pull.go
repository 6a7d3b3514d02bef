package cmd

import (
	"fmt"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull [ref]",
	Short: "Restore the store from an OCI registry",
	Long:  "Pull a backup image and add every object not already stored. Local records are kept as they are.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	ref, err := remoteRef(args)
	if err != nil {
		return err
	}
	return withEngine(func(eng *imgcas.Engine) error {
		n, err := eng.Pull(cmd.Context(), ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d objects from %s\n", n, ref)
		return nil
	})
}
