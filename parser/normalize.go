package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-eggprices/models"
)

// The report lays out one column per day (at most 31) followed by the
// monthly average, so a data row always has more than minDataCells cells.
const (
	minDataCells = 30
	lastDayIndex = 31
)

var headerLabels = map[string]struct{}{
	"Name Of Zone / Day":        {},
	"NECC SUGGESTED EGG PRICES": {},
}

var zoneTags = []string{"(CC)", "(OD)", "(WB)"}

// NormalizeError reports a price cell that is not a number. It aborts the
// whole normalisation call.
type NormalizeError struct {
	Row    int
	Column int
	Value  string
	Err    error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize row %d column %d: invalid price %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// Normalize converts a fetched table into city records. A failed fetch is
// returned untouched.
func Normalize(in models.FetchResult) (models.PriceResult, error) {
	if in.Err != nil {
		return models.PriceResult{Err: in.Err}, nil
	}

	records := make([]models.CityRecord, 0, len(in.Table))
	for i, row := range in.Table {
		if !IsDataRow(row) {
			continue
		}
		record, err := normalizeRow(i, row)
		if err != nil {
			return models.PriceResult{}, err
		}
		records = append(records, record)
	}
	return models.PriceResult{Records: records}, nil
}

// IsDataRow reports whether row carries a city's prices rather than a
// header or separator.
func IsDataRow(row models.RawRow) bool {
	if len(row) <= minDataCells {
		return false
	}
	_, header := headerLabels[row[0]]
	return !header
}

func normalizeRow(index int, row models.RawRow) (models.CityRecord, error) {
	end := lastDayIndex + 1
	if end > len(row) {
		end = len(row)
	}

	latest := 0.0
	for col := end - 1; col >= 1; col-- {
		if isPlaceholder(row[col]) {
			continue
		}
		v, err := ParsePrice(row[col])
		if err != nil {
			return models.CityRecord{}, &NormalizeError{Row: index, Column: col, Value: row[col], Err: err}
		}
		latest = v
		break
	}

	avg := 0.0
	last := len(row) - 1
	if !isPlaceholder(row[last]) {
		v, err := ParsePrice(row[last])
		if err != nil {
			return models.CityRecord{}, &NormalizeError{Row: index, Column: last, Value: row[last], Err: err}
		}
		avg = v
	}

	price := latest
	if price == 0 {
		price = avg
	}

	return models.CityRecord{
		City:  CleanCity(row[0]),
		Price: price,
		Avg:   avg,
	}, nil
}

// ErrNotFinite marks NaN and infinity cells, which ParseFloat accepts.
var ErrNotFinite = errors.New("price is not a finite number")

// ParsePrice parses a cell quoted in paise and returns rupees.
func ParsePrice(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v / 100, nil
}

// CleanCity strips the zone tags from a city label.
func CleanCity(label string) string {
	for _, tag := range zoneTags {
		label = strings.ReplaceAll(label, tag, "")
	}
	return strings.TrimSpace(label)
}

func isPlaceholder(cell string) bool {
	return cell == "" || cell == "-"
}
