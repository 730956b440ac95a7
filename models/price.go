// Package models defines data structures for the scraper.
package models

import "time"

// Report parameter defaults used when a caller leaves a field empty.
const (
	DefaultMonth      = "01"
	DefaultYear       = "2026"
	DefaultReportType = "Daily Rate Sheet"
)

// FetchParams selects the report rendered by the upstream form.
// Values are forwarded as-is; the upstream server decides what is valid.
type FetchParams struct {
	Month      string `json:"month"`
	Year       string `json:"year"`
	ReportType string `json:"type"`
}

// WithDefaults fills empty fields with the report defaults.
func (p FetchParams) WithDefaults() FetchParams {
	if p.Month == "" {
		p.Month = DefaultMonth
	}
	if p.Year == "" {
		p.Year = DefaultYear
	}
	if p.ReportType == "" {
		p.ReportType = DefaultReportType
	}
	return p
}

// RawRow is the trimmed text of every cell of one table row.
type RawRow []string

// RawTable is every non-empty row of every table on the page, in document order.
type RawTable []RawRow

// CityRecord is the normalised price line for one city.
type CityRecord struct {
	City  string  `json:"city"`
	Price float64 `json:"price"`
	Avg   float64 `json:"avg"`
}

// ScrapeSummary describes a single pipeline run.
type ScrapeSummary struct {
	Params      FetchParams
	StartTime   time.Time
	EndTime     time.Time
	RowCount    int
	RecordCount int
	CacheHit    bool
	ErrorType   string
}
