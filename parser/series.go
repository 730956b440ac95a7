package parser

import (
	"time"

	"github.com/aluiziolira/go-scrape-eggprices/models"
)

// Series extracts each city's dated daily prices from a report table. Day
// columns run from 1 to 31; the trailing average column is never part of a
// series, and days that do not exist in the month are ignored.
func Series(table models.RawTable, month time.Month, year int) ([]models.CitySeries, error) {
	out := make([]models.CitySeries, 0, len(table))
	for i, row := range table {
		if !IsDataRow(row) {
			continue
		}
		end := lastDayIndex
		if end > len(row)-2 {
			end = len(row) - 2
		}

		series := models.CitySeries{City: CleanCity(row[0])}
		for col := 1; col <= end; col++ {
			if isPlaceholder(row[col]) {
				continue
			}
			date := time.Date(year, month, col, 0, 0, 0, 0, time.UTC)
			if date.Month() != month {
				continue
			}
			price, err := ParsePrice(row[col])
			if err != nil {
				return nil, &NormalizeError{Row: i, Column: col, Value: row[col], Err: err}
			}
			series.Points = append(series.Points, models.PricePoint{
				Date:  date.Format(models.DateLayout),
				Price: price,
			})
		}
		out = append(out, series)
	}
	return out, nil
}
