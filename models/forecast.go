package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used in price series.
const DateLayout = "2006-01-02"

// ErrInvalidPeriod marks a month or year that cannot be placed on a calendar.
var ErrInvalidPeriod = errors.New("invalid report period")

// Period resolves the month and year into calendar values.
func (p FetchParams) Period() (time.Month, int, error) {
	month, err := strconv.Atoi(p.Month)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month %q", ErrInvalidPeriod, p.Month)
	}
	year, err := strconv.Atoi(p.Year)
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("%w: year %q", ErrInvalidPeriod, p.Year)
	}
	return time.Month(month), year, nil
}

// PricePoint is one dated daily price.
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// CitySeries is the daily price history of one city within a report.
type CitySeries struct {
	City   string       `json:"city"`
	Points []PricePoint `json:"points"`
}

// ForecastPoint is a projected price with its confidence band.
type ForecastPoint struct {
	Date      string  `json:"date"`
	Predicted float64 `json:"predicted"`
	Upper     float64 `json:"upper"`
	Lower     float64 `json:"lower"`
}

// ForecastMetrics summarises the history and the projection.
type ForecastMetrics struct {
	Trend              string  `json:"trend"`
	SlopePerDay        float64 `json:"slopePerDay"`
	Volatility         float64 `json:"volatility"`
	Confidence         float64 `json:"confidence"`
	AvgPrice           float64 `json:"avgPrice"`
	PredictedNextWeek  float64 `json:"predictedNextWeek"`
	PredictedNextMonth float64 `json:"predictedNextMonth"`
}

// DayAverage is the mean price observed on one weekday.
type DayAverage struct {
	Day time.Weekday `json:"day"`
	Avg float64      `json:"avg"`
}

// Seasonality reports whether prices follow a weekly pattern.
type Seasonality struct {
	HasSeasonality bool         `json:"hasSeasonality"`
	Pattern        string       `json:"pattern"`
	DayAverages    []DayAverage `json:"dayAverages,omitempty"`
}

// CityForecast is the projection for one city.
type CityForecast struct {
	City        string          `json:"city"`
	Model       string          `json:"model"`
	History     []PricePoint    `json:"history"`
	Forecast    []ForecastPoint `json:"forecast"`
	Metrics     ForecastMetrics `json:"metrics"`
	Seasonality Seasonality     `json:"seasonality"`
}

// ForecastResult holds exactly one of Forecast or Err.
type ForecastResult struct {
	Forecast *CityForecast
	Err      *ScrapeError
}

// Failed reports whether the result carries an error marker.
func (r ForecastResult) Failed() bool {
	return r.Err != nil
}

// MarshalJSON encodes the result as either the forecast or {"error": "..."}.
func (r ForecastResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(r.Err)
	}
	return json.Marshal(r.Forecast)
}
