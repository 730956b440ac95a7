package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-eggprices/config"
	"github.com/aluiziolira/go-scrape-eggprices/forecast"
	"github.com/aluiziolira/go-scrape-eggprices/models"
	"github.com/aluiziolira/go-scrape-eggprices/pipeline"
	"github.com/aluiziolira/go-scrape-eggprices/scraper"
)

// reportRunner is satisfied by *pipeline.Pipeline.
type reportRunner interface {
	Run(ctx context.Context, params models.FetchParams) (models.PriceResult, error)
	RunWithSummary(ctx context.Context, params models.FetchParams) (models.PriceResult, models.ScrapeSummary, error)
	Forecast(ctx context.Context, req forecast.Request) (models.ForecastResult, error)
}

// newRunner builds the fetch pipeline. Tests swap it for a stub.
var newRunner = func(cfg *config.Config, metrics *scraper.Metrics) (reportRunner, error) {
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return pipeline.NewPipeline(fetcher, cfg, metrics), nil
}

type rootOptions struct {
	configPath string
	format     string
	output     string
	verbose    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "eggprice [month] [year] [type]",
		Short: "Fetch NECC egg prices by city",
		Long: `eggprice replays the NECC egg price report form and prints the
latest price and the period average for every city in the report.

Month and year default to 01 and 2026; the report type defaults to
"Daily Rate Sheet".`,
		Args:         cobra.MaximumNArgs(3),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runReport(cmd, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&opts.format, "format", "json", "output format: json, jsonl, csv or dual")
	cmd.Flags().StringVar(&opts.output, "output", "", "output file (default stdout; required for dual)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newForecastCmd(opts))
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Verbose = true
	}

	logger, _ := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)
	o.cfg = cfg
	return nil
}

func paramsFromArgs(args []string) models.FetchParams {
	var params models.FetchParams
	if len(args) > 0 {
		params.Month = args[0]
	}
	if len(args) > 1 {
		params.Year = args[1]
	}
	if len(args) > 2 {
		params.ReportType = args[2]
	}
	return params.WithDefaults()
}

func (o *rootOptions) runReport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(o.format)
	if format == "dual" && o.output == "" {
		return fmt.Errorf("--output is required for dual format")
	}

	runner, err := newRunner(o.cfg, scraper.NewMetrics())
	if err != nil {
		return err
	}

	params := paramsFromArgs(args)
	result, summary, err := runner.RunWithSummary(cmd.Context(), params)
	if err != nil {
		slog.Error("report failed", slog.Any("error", err))
		return err
	}

	if result.Failed() {
		slog.Warn("report unavailable",
			slog.String("error_type", summary.ErrorType),
			slog.Any("error", result.Err),
		)
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
			return fmt.Errorf("encode error result: %w", err)
		}
		return nil
	}

	writer, err := createWriter(format, o.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	if err := writer.Write(result); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if o.output != "" && len(result.Records) > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	}

	slog.Info("report complete",
		slog.String("month", summary.Params.Month),
		slog.String("year", summary.Params.Year),
		slog.String("type", summary.Params.ReportType),
		slog.Int("rows", summary.RowCount),
		slog.Int("records", summary.RecordCount),
		slog.Bool("cache_hit", summary.CacheHit),
		slog.Duration("duration", summary.EndTime.Sub(summary.StartTime)),
	)
	return nil
}

func createWriter(format, filename string, stdout io.Writer) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		if filename == "" {
			return pipeline.NewJSONStreamWriter(stdout), nil
		}
		return pipeline.NewJSONWriter(filename)
	case "jsonl":
		if filename == "" {
			return pipeline.NewJSONLStreamWriter(stdout), nil
		}
		return pipeline.NewJSONLWriter(filename)
	case "csv":
		if filename == "" {
			return pipeline.NewCSVStreamWriter(stdout)
		}
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
