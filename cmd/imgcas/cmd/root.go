package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aweris/imgcas"
	"github.com/aweris/imgcas/internal/config"
	"github.com/aweris/imgcas/internal/hasher"
	"github.com/aweris/imgcas/internal/logging"
	"github.com/aweris/imgcas/internal/remote"
	"github.com/aweris/imgcas/internal/validate"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "imgcas",
	Short:         "Content-addressed image store",
	Long:          "Store images once per unique content, expire them after a retention window and back them up to OCI registries.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/imgcas/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
}

func initConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	v := config.New(path)
	if err := v.BindPFlag("logging.level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("listen"); f != nil {
		if err := v.BindPFlag("server.listen", f); err != nil {
			return err
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	log, err := logging.New(loaded.Logging.Level, loaded.Logging.Format, os.Stderr)
	if err != nil {
		return err
	}

	cfg, logger = loaded, log
	return nil
}

// openEngine opens the configured store. Callers close it.
func openEngine(extra ...imgcas.Option) (*imgcas.Engine, error) {
	h, err := hasher.New(cfg.Storage.Hash)
	if err != nil {
		return nil, err
	}
	rules, err := validate.New(uint64(cfg.Upload.MaxObjectSize), cfg.Upload.AllowedExtensions, cfg.Upload.AllowedMimeTypes)
	if err != nil {
		return nil, err
	}

	opts := []imgcas.Option{
		imgcas.WithLogger(logger),
		imgcas.WithHasher(h),
		imgcas.WithValidator(rules),
		imgcas.WithConcurrency(cfg.Remote.Concurrency),
	}
	if cfg.Remote.Username != "" {
		opts = append(opts, imgcas.WithAuth(remote.StaticAuthenticator{
			Username: cfg.Remote.Username,
			Password: cfg.Remote.Password,
		}))
	}
	opts = append(opts, extra...)

	return imgcas.Open(cfg.Storage.Root, cfg.Storage.MetadataFile, opts...)
}

// withEngine runs fn against an open engine and closes it afterwards.
func withEngine(fn func(*imgcas.Engine) error, extra ...imgcas.Option) (err error) {
	eng, err := openEngine(extra...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(eng)
}
