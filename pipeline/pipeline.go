// Package pipeline runs the fetch-then-normalise core shared by the CLI and
// the HTTP endpoint, and writes its results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-scrape-eggprices/config"
	"github.com/aluiziolira/go-scrape-eggprices/forecast"
	"github.com/aluiziolira/go-scrape-eggprices/models"
	"github.com/aluiziolira/go-scrape-eggprices/parser"
	"github.com/aluiziolira/go-scrape-eggprices/scraper"
)

// Fetcher retrieves the raw report table.
type Fetcher interface {
	Fetch(ctx context.Context, params models.FetchParams) models.FetchResult
}

// Pipeline composes the fetcher and the normaliser.
type Pipeline struct {
	fetcher Fetcher
	cache   *expirable.LRU[models.FetchParams, []models.CityRecord]
	metrics *scraper.Metrics

	stats stats
}

// NewPipeline builds a pipeline. The result cache is enabled only when
// cfg.CacheSize is positive.
func NewPipeline(fetcher Fetcher, cfg *config.Config, metrics *scraper.Metrics) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		metrics: metrics,
		stats:   newStats(),
	}
	if cfg != nil && cfg.CacheSize > 0 {
		p.cache = expirable.NewLRU[models.FetchParams, []models.CityRecord](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return p
}

// Run fetches and normalises one report. Scrape failures come back inside
// the result; the returned error is reserved for malformed price cells.
func (p *Pipeline) Run(ctx context.Context, params models.FetchParams) (models.PriceResult, error) {
	result, _, err := p.RunWithSummary(ctx, params)
	return result, err
}

// RunWithSummary is Run plus a description of what happened.
func (p *Pipeline) RunWithSummary(ctx context.Context, params models.FetchParams) (models.PriceResult, models.ScrapeSummary, error) {
	params = params.WithDefaults()
	summary := models.ScrapeSummary{Params: params, StartTime: time.Now()}

	if records, ok := p.cached(params); ok {
		p.metrics.IncCacheHit()
		p.stats.add("cache_hits", 1)
		summary.CacheHit = true
		summary.RecordCount = len(records)
		summary.EndTime = time.Now()
		return models.PriceResult{Records: records}, summary, nil
	}

	slog.Info("fetching report",
		slog.String("month", params.Month),
		slog.String("year", params.Year),
		slog.String("type", params.ReportType),
	)
	fetched := p.fetcher.Fetch(ctx, params)
	p.stats.add("runs", 1)
	if fetched.Failed() {
		p.stats.add("scrape_errors", 1)
		summary.ErrorType = fetched.Err.Kind
	} else {
		summary.RowCount = len(fetched.Table)
	}

	result, err := parser.Normalize(fetched)
	if err != nil {
		p.stats.add("normalize_errors", 1)
		slog.Error("normalize report", slog.Any("error", err))
		summary.EndTime = time.Now()
		return models.PriceResult{}, summary, err
	}

	if !result.Failed() {
		summary.RecordCount = len(result.Records)
		p.stats.add("records", int64(len(result.Records)))
		p.store(params, result.Records)
	}
	summary.EndTime = time.Now()
	return result, summary, nil
}

// ErrCityNotFound marks a forecast for a city the report does not list.
var ErrCityNotFound = errors.New("city not found in report")

// Forecast fetches the report and projects one city's daily prices. Scrape
// failures come back inside the result. Invalid requests, unknown cities and
// malformed price cells are returned as errors.
func (p *Pipeline) Forecast(ctx context.Context, req forecast.Request) (models.ForecastResult, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return models.ForecastResult{}, err
	}
	month, year, err := req.Params.Period()
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("%w: %w", forecast.ErrInvalidRequest, err)
	}

	slog.Info("forecasting city",
		slog.String("city", req.City),
		slog.String("month", req.Params.Month),
		slog.String("year", req.Params.Year),
		slog.String("model", string(req.Model)),
		slog.Int("days", req.Days),
	)
	fetched := p.fetcher.Fetch(ctx, req.Params)
	p.stats.add("runs", 1)
	if fetched.Failed() {
		p.stats.add("scrape_errors", 1)
		return models.ForecastResult{Err: fetched.Err}, nil
	}

	all, err := parser.Series(fetched.Table, month, year)
	if err != nil {
		p.stats.add("normalize_errors", 1)
		return models.ForecastResult{}, err
	}
	want := parser.CleanCity(req.City)
	for _, series := range all {
		if !strings.EqualFold(series.City, want) {
			continue
		}
		result, err := forecast.Generate(series.Points, req.Days, req.Model)
		if err != nil {
			return models.ForecastResult{}, err
		}
		seasonality, err := forecast.DetectSeasonality(series.Points)
		if err != nil {
			return models.ForecastResult{}, err
		}
		result.Forecast.City = series.City
		result.Forecast.Seasonality = seasonality
		p.stats.add("forecasts", 1)
		return result, nil
	}
	return models.ForecastResult{}, fmt.Errorf("%w: %q", ErrCityNotFound, req.City)
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]int64 {
	return p.stats.snapshot()
}

func (p *Pipeline) cached(params models.FetchParams) ([]models.CityRecord, bool) {
	if p.cache == nil {
		return nil, false
	}
	records, ok := p.cache.Get(params)
	if !ok {
		return nil, false
	}
	return append([]models.CityRecord(nil), records...), true
}

func (p *Pipeline) store(params models.FetchParams, records []models.CityRecord) {
	if p.cache == nil {
		return
	}
	p.cache.Add(params, append([]models.CityRecord(nil), records...))
}

type stats struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newStats() stats {
	return stats{counts: make(map[string]int64)}
}

func (s *stats) add(name string, n int64) {
	s.mu.Lock()
	s.counts[name] += n
	s.mu.Unlock()
}

func (s *stats) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
