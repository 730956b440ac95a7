package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-eggprices/scraper"
	"github.com/aluiziolira/go-scrape-eggprices/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve egg prices over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.ListenAddr = addr
			}

			metrics := scraper.NewMetrics()
			runner, err := newRunner(cfg, metrics)
			if err != nil {
				return err
			}

			slog.Info("starting server",
				slog.String("addr", cfg.ListenAddr),
				slog.String("report_url", cfg.ReportURL),
				slog.Int("cache_size", cfg.CacheSize),
			)
			return server.NewServer(runner, cfg, metrics).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
