package cmd

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aweris/imgcas"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <file>...",
	Short: "Store files",
	Long:  "Store one or more image files. Content that is already stored is deduplicated.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withEngine(func(eng *imgcas.Engine) error {
		failed := 0
		for _, path := range args {
			res, err := putFile(cmd, eng, path)
			var verr *imgcas.ValidationError
			switch {
			case errors.As(err, &verr):
				failed++
				fmt.Fprintf(out, "rejected\t%s\t%s\n", path, verr.Reason)
			case err != nil:
				return fmt.Errorf("%s: %w", path, err)
			default:
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", res.Status, res.LogicalID, res.Digest, path)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files rejected", failed, len(args))
		}
		return nil
	})
}

func putFile(cmd *cobra.Command, eng *imgcas.Engine, path string) (imgcas.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return imgcas.Result{}, err
	}
	defer f.Close()

	name := filepath.Base(path)
	return eng.Store(cmd.Context(), f, name, mime.TypeByExtension(filepath.Ext(name)))
}
