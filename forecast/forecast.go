// Package forecast projects a city's daily egg prices forward.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-eggprices/models"
)

// Model selects the projection method.
type Model string

const (
	Linear Model = "linear"
	WMA    Model = "wma"
	ETS    Model = "ets"
)

const (
	DefaultDays = 30
	MaxDays     = 90

	wmaWindow   = 14
	wmaStdDev   = 0.5
	wmaR2       = 0.85
	wmaDamping  = 0.05
	etsAlpha    = 0.3
	etsStdDev   = 0.6
	etsR2       = 0.88
	z95         = 1.96
	minStdDev   = 0.1
	flatSlope   = 0.01
	weekAhead   = 7
	monthAhead  = 30
	minSeasonal = 30
	weeklySwing = 0.02
)

// ErrInvalidRequest marks a forecast request that cannot be served.
var ErrInvalidRequest = errors.New("invalid forecast request")

// ParseModel maps a query value onto a Model; empty means Linear.
func ParseModel(s string) (Model, error) {
	switch m := Model(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Linear, nil
	case Linear, WMA, ETS:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, s)
	}
}

// Request names the report, the city and the projection to run.
type Request struct {
	Params models.FetchParams
	City   string
	Model  Model
	Days   int
}

// WithDefaults fills the report defaults, the linear model and DefaultDays.
func (r Request) WithDefaults() Request {
	r.Params = r.Params.WithDefaults()
	if r.Model == "" {
		r.Model = Linear
	}
	if r.Days == 0 {
		r.Days = DefaultDays
	}
	return r
}

// Validate checks the city, the horizon and the model.
func (r Request) Validate() error {
	if strings.TrimSpace(r.City) == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	}
	if r.Days < 1 || r.Days > MaxDays {
		return fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, MaxDays)
	}
	if _, err := ParseModel(string(r.Model)); err != nil {
		return err
	}
	return nil
}

// Regression is an ordinary least squares fit of price against day index.
type Regression struct {
	Slope     float64
	Intercept float64
	R2        float64
}

// LinearRegression fits prices against their position in the series.
func LinearRegression(prices []float64) Regression {
	n := float64(len(prices))
	switch len(prices) {
	case 0:
		return Regression{}
	case 1:
		return Regression{Intercept: prices[0]}
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range prices {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return Regression{Intercept: sumY / n}
	}

	slope := (n*sumXY - sumX*sumY) / denominator
	intercept := (sumY - slope*sumX) / n

	mean := sumY / n
	var ssTot, ssRes float64
	for i, y := range prices {
		predicted := slope*float64(i) + intercept
		ssTot += (y - mean) * (y - mean)
		ssRes += (y - predicted) * (y - predicted)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return Regression{Slope: slope, Intercept: intercept, R2: r2}
}

// WeightedMovingAverage smooths prices over a trailing window with linearly
// increasing weights 1..window, so the newest price counts most. The first
// points use the top weights of the shorter window available.
func WeightedMovingAverage(prices []float64, window int) []float64 {
	out := make([]float64, len(prices))
	for i := range prices {
		start := max(0, i-window+1)
		offset := window - (i + 1 - start)
		var sum, weights float64
		for j, p := range prices[start : i+1] {
			w := float64(offset + j + 1)
			sum += p * w
			weights += w
		}
		out[i] = sum / weights
	}
	return out
}

// ExponentialSmoothing applies single exponential smoothing with factor
// alpha in (0, 1).
func ExponentialSmoothing(prices []float64, alpha float64) []float64 {
	if len(prices) == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Generate projects history forward by days using model. A history shorter
// than two points yields an empty projection with a neutral trend.
func Generate(history []models.PricePoint, days int, model Model) (models.ForecastResult, error) {
	if len(history) < 2 {
		return models.ForecastResult{Forecast: &models.CityForecast{
			Model:    string(model),
			History:  history,
			Forecast: []models.ForecastPoint{},
			Metrics:  models.ForecastMetrics{Trend: "neutral"},
		}}, nil
	}

	last, err := time.Parse(models.DateLayout, history[len(history)-1].Date)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("parse history date: %w", err)
	}

	prices := make([]float64, len(history))
	for i, p := range history {
		prices[i] = p.Price
	}

	var (
		points []models.ForecastPoint
		slope  float64
		r2     float64
	)
	switch model {
	case WMA:
		points, slope = projectWMA(prices, last, days)
		r2 = wmaR2
	case ETS:
		points, slope = projectETS(prices, last, days)
		r2 = etsR2
	case Linear:
		var fit Regression
		points, fit = projectLinear(prices, last, days)
		slope, r2 = fit.Slope, fit.R2
	default:
		return models.ForecastResult{}, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, model)
	}

	return models.ForecastResult{Forecast: &models.CityForecast{
		Model:    string(model),
		History:  history,
		Forecast: points,
		Metrics:  summarise(prices, points, slope, r2),
	}}, nil
}

func projectWMA(prices []float64, last time.Time, days int) ([]models.ForecastPoint, float64) {
	smoothed := WeightedMovingAverage(prices, wmaWindow)
	n := len(smoothed)
	level := round(smoothed[n-1], 2)
	step := level - round(smoothed[n-2], 2)

	points := make([]models.ForecastPoint, days)
	for i := range points {
		damping := math.Max(0, 1-float64(i)*wmaDamping)
		predicted := level + step*float64(i+1)*damping
		points[i] = band(last, i, predicted, z95*wmaStdDev, false)
	}
	return points, step
}

func projectETS(prices []float64, last time.Time, days int) ([]models.ForecastPoint, float64) {
	smoothed := ExponentialSmoothing(prices, etsAlpha)
	n := len(smoothed)
	level := round(smoothed[n-1], 2)
	trend := (level - round(smoothed[0], 2)) / float64(n)

	points := make([]models.ForecastPoint, days)
	for i := range points {
		predicted := level + trend*float64(i+1)
		points[i] = band(last, i, predicted, z95*etsStdDev, false)
	}
	return points, trend
}

// projectLinear widens the band with distance from the observed data.
func projectLinear(prices []float64, last time.Time, days int) ([]models.ForecastPoint, Regression) {
	fit := LinearRegression(prices)
	n := float64(len(prices))

	var ss float64
	for i, y := range prices {
		r := y - (fit.Slope*float64(i) + fit.Intercept)
		ss += r * r
	}
	stdDev := minStdDev
	if len(prices) > 2 {
		if sd := math.Sqrt(ss / (n - 2)); sd > 0 {
			stdDev = sd
		}
	}

	points := make([]models.ForecastPoint, days)
	for i := range points {
		x := n + float64(i)
		predicted := fit.Slope*x + fit.Intercept
		spread := z95 * math.Sqrt(1+1/n+(x-n/2)*(x-n/2)/(n*stdDev)) * stdDev
		points[i] = band(last, i, predicted, spread, true)
	}
	return points, fit
}

func band(last time.Time, i int, predicted, spread float64, clampBand bool) models.ForecastPoint {
	upper, lower := predicted+spread, predicted-spread
	if clampBand {
		upper, lower = math.Max(0, upper), math.Max(0, lower)
	}
	return models.ForecastPoint{
		Date:      last.AddDate(0, 0, i+1).Format(models.DateLayout),
		Predicted: round(math.Max(0, predicted), 2),
		Upper:     round(upper, 2),
		Lower:     round(lower, 2),
	}
}

func summarise(prices []float64, points []models.ForecastPoint, slope, r2 float64) models.ForecastMetrics {
	n := float64(len(prices))
	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= n

	variance := 0.0
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	volatility := 0.0
	if mean != 0 {
		volatility = math.Sqrt(variance/n) / mean * 100
	}

	trend := "stable"
	switch {
	case slope > flatSlope:
		trend = "rising"
	case slope < -flatSlope:
		trend = "falling"
	}

	m := models.ForecastMetrics{
		Trend:       trend,
		SlopePerDay: round(slope, 4),
		Volatility:  round(volatility, 1),
		Confidence:  math.Round(r2 * 100),
		AvgPrice:    round(mean, 2),
	}
	if len(points) >= weekAhead {
		m.PredictedNextWeek = points[weekAhead-1].Predicted
	}
	if len(points) >= monthAhead {
		m.PredictedNextMonth = points[monthAhead-1].Predicted
	} else if len(points) > 0 {
		m.PredictedNextMonth = points[len(points)-1].Predicted
	}
	return m
}

// DetectSeasonality looks for a weekly pattern: some weekday whose mean
// price strays more than 2% from the overall mean. Fewer than 30 points
// are not enough to tell.
func DetectSeasonality(history []models.PricePoint) (models.Seasonality, error) {
	if len(history) < minSeasonal {
		return models.Seasonality{Pattern: "insufficient data"}, nil
	}

	sums := make(map[time.Weekday]float64)
	counts := make(map[time.Weekday]int)
	total := 0.0
	for _, p := range history {
		d, err := time.Parse(models.DateLayout, p.Date)
		if err != nil {
			return models.Seasonality{}, fmt.Errorf("parse history date: %w", err)
		}
		sums[d.Weekday()] += p.Price
		counts[d.Weekday()]++
		total += p.Price
	}
	overall := total / float64(len(history))

	averages := make([]models.DayAverage, 0, len(sums))
	maxDev := 0.0
	for day, sum := range sums {
		avg := sum / float64(counts[day])
		averages = append(averages, models.DayAverage{Day: day, Avg: round(avg, 2)})
		maxDev = math.Max(maxDev, math.Abs(avg-overall))
	}
	sort.Slice(averages, func(i, j int) bool { return averages[i].Day < averages[j].Day })

	weekly := overall != 0 && maxDev/overall > weeklySwing
	s := models.Seasonality{HasSeasonality: weekly, Pattern: "none", DayAverages: averages}
	if weekly {
		s.Pattern = "weekly"
	}
	return s, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
