// Package server exposes the egg price report over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-eggprices/config"
	"github.com/aluiziolira/go-scrape-eggprices/forecast"
	"github.com/aluiziolira/go-scrape-eggprices/models"
	"github.com/aluiziolira/go-scrape-eggprices/pipeline"
	"github.com/aluiziolira/go-scrape-eggprices/scraper"
)

// Runner produces the normalised report and per-city forecasts.
type Runner interface {
	Run(ctx context.Context, params models.FetchParams) (models.PriceResult, error)
	Forecast(ctx context.Context, req forecast.Request) (models.ForecastResult, error)
}

// Server wires HTTP handlers to the report pipeline.
type Server struct {
	router  chi.Router
	runner  Runner
	cfg     *config.Config
	metrics *scraper.Metrics
}

// NewServer constructs a Server with middleware and routes. metrics may be
// nil, in which case /metrics is not mounted.
func NewServer(runner Runner, cfg *config.Config, metrics *scraper.Metrics) *Server {
	s := &Server{
		runner:  runner,
		cfg:     cfg,
		metrics: metrics,
	}

	r := chi.NewRouter()
	r.Use(loggingMiddleware(metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}))
	r.Use(recoverMiddleware)

	r.Get("/healthz", s.healthz)
	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/api/egg-prices", s.eggPrices)
	r.Get("/api/egg-prices/forecast", s.forecastPrices)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server started", slog.String("addr", s.cfg.ListenAddr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown initiated")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
		if cerr := srv.Close(); cerr != nil {
			return fmt.Errorf("close server: %w", cerr)
		}
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// eggPrices always answers 200 for scrape failures; callers tell success
// from failure by the body shape.
func (s *Server) eggPrices(w http.ResponseWriter, r *http.Request) {
	params := paramsFromQuery(r)

	result, err := s.runner.Run(r.Context(), params)
	if err != nil {
		slog.Error("egg price report failed",
			slog.String("month", params.Month),
			slog.String("year", params.Year),
			slog.String("type", params.ReportType),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// forecastPrices follows eggPrices for scrape failures. Bad requests are 400 and
// cities missing from the report are 404.
func (s *Server) forecastPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := forecast.Request{
		Params: paramsFromQuery(r),
		City:   q.Get("city"),
	}
	model, err := forecast.ParseModel(q.Get("model"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	req.Model = model
	if raw := q.Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid days %q", raw)})
			return
		}
		req.Days = days
	}

	result, err := s.runner.Forecast(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, forecast.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, pipeline.ErrCityNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		slog.Error("egg price forecast failed",
			slog.String("city", req.City),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func paramsFromQuery(r *http.Request) models.FetchParams {
	q := r.URL.Query()
	return models.FetchParams{
		Month:      q.Get("month"),
		Year:       q.Get("year"),
		ReportType: q.Get("type"),
	}.WithDefaults()
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode response", slog.Any("error", err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{Error: "encode response: " + err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Error("write response", slog.Any("error", err))
	}
}
