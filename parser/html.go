// Package parser turns the NECC report pages into raw tables and city records.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-eggprices/models"
)

// HiddenFields returns the name/value pair of every hidden input on the page.
// Inputs missing either attribute are skipped.
func HiddenFields(body []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse form page: %w", err)
	}

	fields := make(map[string]string)
	doc.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			return
		}
		value, ok := s.Attr("value")
		if !ok {
			return
		}
		fields[name] = value
	})
	return fields, nil
}

// ExtractTable flattens every table on the page into rows of trimmed cell
// text. Rows without cells are dropped.
func ExtractTable(body []byte) (models.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse report page: %w", err)
	}

	table := models.RawTable{}
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td, th")
			if cells.Length() == 0 {
				return
			}
			row := make(models.RawRow, 0, cells.Length())
			cells.Each(func(_ int, cell *goquery.Selection) {
				row = append(row, strings.TrimSpace(cell.Text()))
			})
			table = append(table, row)
		})
	})
	return table, nil
}
