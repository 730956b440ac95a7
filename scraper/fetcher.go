// Package scraper replays the NECC report form and returns its tables.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-eggprices/config"
	"github.com/aluiziolira/go-scrape-eggprices/models"
	"github.com/aluiziolira/go-scrape-eggprices/parser"
)

// Form fields posted with every report request. The two event fields tell
// the page that no control triggered the postback; they must be present and
// empty.
const (
	fieldMonth         = "ddlMonth"
	fieldYear          = "ddlYear"
	fieldReportType    = "rblReportType"
	fieldEventTarget   = "__EVENTTARGET"
	fieldEventArgument = "__EVENTARGUMENT"
)

const (
	phaseGet  = "get"
	phasePost = "post"
)

// Fetcher replays the report form: a GET to collect the view-state, then a
// POST carrying it back with the report selection.
type Fetcher struct {
	cfg       *config.Config
	host      string
	transport http.RoundTripper
	Metrics   *Metrics
}

// NewFetcher builds a fetcher configured from cfg. metrics may be nil.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.ReportURL)
	if err != nil {
		return nil, fmt.Errorf("parse report url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("report url must include a host")
	}

	return &Fetcher{
		cfg:       cfg,
		host:      parsed.Hostname(),
		transport: newHTTPTransport(cfg.GetTimeout),
		Metrics:   metrics,
	}, nil
}

// WithTransport replaces the HTTP transport used by new sessions.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.transport = rt
}

// Fetch returns the report's raw table. Every failure is reported through
// the result's error marker; Fetch itself never fails.
func (f *Fetcher) Fetch(ctx context.Context, params models.FetchParams) (result models.FetchResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			result = f.fail(params, fmt.Errorf("scrape panic: %v", r))
		}
	}()

	table, err := f.fetch(ctx, params)
	if err != nil {
		return f.fail(params, err)
	}
	f.Metrics.AddRows(len(table))
	return models.FetchResult{Table: table}
}

func (f *Fetcher) fail(params models.FetchParams, err error) models.FetchResult {
	classified := classifyError(err)
	category := errorTypeLabel(classified)
	f.Metrics.IncError(category)
	slog.Warn("report scrape failed",
		slog.String("month", params.Month),
		slog.String("year", params.Year),
		slog.String("type", params.ReportType),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return models.FetchResult{Err: models.NewScrapeError(category, err)}
}

func (f *Fetcher) fetch(ctx context.Context, params models.FetchParams) (models.RawTable, error) {
	s, err := f.newSession()
	if err != nil {
		return nil, err
	}

	s.collector.SetRequestTimeout(f.cfg.GetTimeout)
	page, err := s.do(ctx, phaseGet, func() error {
		return s.collector.Visit(f.cfg.ReportURL)
	})
	if err != nil {
		return nil, fmt.Errorf("get report form: %w", err)
	}

	hidden, err := parser.HiddenFields(page)
	if err != nil {
		return nil, ErrMarkup{Err: err}
	}
	slog.Debug("harvested form state", slog.Int("hidden_fields", len(hidden)))

	payload := BuildFormPayload(hidden, params)
	s.collector.SetRequestTimeout(f.cfg.PostTimeout)
	page, err = s.do(ctx, phasePost, func() error {
		return s.collector.Post(f.cfg.ReportURL, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("post report form: %w", err)
	}

	table, err := parser.ExtractTable(page)
	if err != nil {
		return nil, ErrMarkup{Err: err}
	}
	slog.Debug("extracted report table", slog.Int("rows", len(table)))
	return table, nil
}

// BuildFormPayload merges the page's hidden state with the report
// selection. Hidden fields are copied as an opaque bag; the selection
// fields win on a name clash.
func BuildFormPayload(hidden map[string]string, params models.FetchParams) map[string]string {
	payload := make(map[string]string, len(hidden)+5)
	for name, value := range hidden {
		payload[name] = value
	}
	payload[fieldMonth] = params.Month
	payload[fieldYear] = params.Year
	payload[fieldReportType] = params.ReportType
	payload[fieldEventTarget] = ""
	payload[fieldEventArgument] = ""
	return payload
}

// session is a single cookie-bearing conversation with the form. It is
// never shared between Fetch calls.
type session struct {
	collector *colly.Collector
	metrics   *Metrics
	body      []byte
	status    int
}

func (f *Fetcher) newSession() (*session, error) {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.AllowedDomains(f.host),
		colly.UserAgent(f.cfg.UserAgent),
		colly.ParseHTTPErrorResponse(),
	)
	collector.IgnoreRobotsTxt = true

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)
	if f.transport != nil {
		collector.WithTransport(f.transport)
	}

	s := &session{collector: collector, metrics: f.Metrics}
	collector.OnResponse(func(r *colly.Response) {
		s.status = r.StatusCode
		s.body = append([]byte(nil), r.Body...)
	})
	return s, nil
}

// do runs one request and waits for it or for ctx. Error statuses still
// carry a body, and the page content decides whether the report is usable.
func (s *session) do(ctx context.Context, phase string, request func() error) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s canceled: %w", phase, err)
	}
	s.body = nil
	s.status = 0
	s.metrics.IncRequest(phase)
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- request()
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s canceled: %w", phase, ctx.Err())
	case err := <-done:
		s.metrics.ObserveDuration(phase, time.Since(start))
		if err != nil {
			return nil, err
		}
		s.metrics.IncUpstreamStatus(phase, s.status)
		if s.status >= http.StatusMultipleChoices {
			slog.Warn("form request returned non-success status",
				slog.String("phase", phase),
				slog.Int("status", s.status),
			)
		}
		slog.Debug("form request complete",
			slog.String("phase", phase),
			slog.Int("status", s.status),
			slog.Int("bytes", len(s.body)),
		)
		return s.body, nil
	}
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}
