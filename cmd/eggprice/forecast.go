package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-eggprices/forecast"
	"github.com/aluiziolira/go-scrape-eggprices/scraper"
)

func newForecastCmd(opts *rootOptions) *cobra.Command {
	var (
		model string
		days  int
	)

	cmd := &cobra.Command{
		Use:   "forecast <city> [month] [year] [type]",
		Short: "Project a city's daily prices forward",
		Args:  cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := forecast.ParseModel(model)
			if err != nil {
				return err
			}

			runner, err := newRunner(opts.cfg, scraper.NewMetrics())
			if err != nil {
				return err
			}

			req := forecast.Request{
				Params: paramsFromArgs(args[1:]),
				City:   args[0],
				Model:  m,
				Days:   days,
			}
			result, err := runner.Forecast(cmd.Context(), req)
			if err != nil {
				slog.Error("forecast failed", slog.String("city", req.City), slog.Any("error", err))
				return err
			}
			if result.Failed() {
				slog.Warn("report unavailable", slog.String("error_type", result.Err.Kind), slog.Any("error", result.Err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode forecast: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", string(forecast.Linear), "projection model: linear, wma or ets")
	cmd.Flags().IntVar(&days, "days", forecast.DefaultDays, fmt.Sprintf("days to project (1-%d)", forecast.MaxDays))
	return cmd
}
