package cmd

import (
	"context"

	"github.com/aweris/imgcas"
	"github.com/aweris/imgcas/internal/api"
	"github.com/aweris/imgcas/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP upload server",
	Long:  "Serve the upload API and run the retention sweeper until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	m := metrics.New(prometheus.DefaultRegisterer)

	return withEngine(func(eng *imgcas.Engine) error {
		sweeper := imgcas.NewSweeper(eng)
		eng.Stats()

		router := api.NewRouter(eng, sweeper, api.Config{
			MaxObjectSize:   uint64(cfg.Upload.MaxObjectSize),
			RetentionWindow: cfg.Retention.Window,
			Gatherer:        prometheus.DefaultGatherer,
			Logger:          logger.With().Str("component", "http").Logger(),
		})
		srv := api.NewServer(cfg.Server.Listen, router, cfg.Server.ShutdownTimeout, logger)

		var wg conc.WaitGroup
		wg.Go(func() { sweeper.Run(ctx, cfg.Retention.Interval, cfg.Retention.Window) })

		err := srv.Start(ctx)
		cancel()
		wg.Wait()
		return err
	}, imgcas.WithMetrics(m))
}
