package cmd

import (
	"errors"
	"fmt"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push [ref]",
	Short: "Back up the store to an OCI registry",
	Long:  "Push every object and the metadata as an OCI image. Defaults to remote.ref from the config.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	ref, err := remoteRef(args)
	if err != nil {
		return err
	}
	return withEngine(func(eng *imgcas.Engine) error {
		n, err := eng.Push(cmd.Context(), ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d objects to %s\n", n, ref)
		return nil
	})
}

func remoteRef(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Remote.Ref != "" {
		return cfg.Remote.Ref, nil
	}
	return "", errors.New("no image ref given and remote.ref is not configured")
}
