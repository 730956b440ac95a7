package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-eggprices/models"
)

// OutputWriter defines the interface for result output.
type OutputWriter interface {
	Write(result models.PriceResult) error
	Close() error
	Validate() error
}

// output is a destination that is either a created file or a borrowed
// stream such as stdout. Borrowed streams are never closed.
type output struct {
	w    io.Writer
	file *os.File
}

func openOutput(filename string) (output, error) {
	if err := ensureDir(filename); err != nil {
		return output{}, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return output{}, fmt.Errorf("create output file: %w", err)
	}
	return output{w: f, file: f}, nil
}

func (o output) close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func (o output) validate() error {
	if o.file == nil {
		return nil
	}
	info, err := o.file.Stat()
	if err != nil {
		return fmt.Errorf("stat output file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("output file %s is empty", o.file.Name())
	}
	return nil
}

// JSONWriter writes each result as one JSON document: the record array or
// the error object.
type JSONWriter struct {
	out    output
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewJSONWriter creates filename and writes JSON documents to it.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := openOutput(filename)
	if err != nil {
		return nil, err
	}
	return newJSONWriter(out), nil
}

// NewJSONStreamWriter writes JSON documents to w without taking ownership.
func NewJSONStreamWriter(w io.Writer) *JSONWriter {
	return newJSONWriter(output{w: w})
}

func newJSONWriter(out output) *JSONWriter {
	return &JSONWriter{out: out, writer: bufio.NewWriter(out.w)}
}

// Write encodes the result followed by a newline.
func (jw *JSONWriter) Write(result models.PriceResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := json.NewEncoder(jw.writer).Encode(result); err != nil {
		return fmt.Errorf("encode json result: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes an owned file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.out.close()
}

// Validate ensures an owned JSON file has data.
func (jw *JSONWriter) Validate() error {
	return jw.out.validate()
}

// JSONLWriter writes newline-delimited records.
type JSONLWriter struct {
	out     output
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONLWriter creates filename and writes one record per line.
func NewJSONLWriter(filename string) (*JSONLWriter, error) {
	out, err := openOutput(filename)
	if err != nil {
		return nil, err
	}
	return newJSONLWriter(out), nil
}

// NewJSONLStreamWriter writes one record per line to w.
func NewJSONLStreamWriter(w io.Writer) *JSONLWriter {
	return newJSONLWriter(output{w: w})
}

func newJSONLWriter(out output) *JSONLWriter {
	buffer := bufio.NewWriter(out.w)
	return &JSONLWriter{out: out, writer: buffer, encoder: json.NewEncoder(buffer)}
}

// Write appends records in JSONL format. A failed result is written as a
// single error line.
func (jw *JSONLWriter) Write(result models.PriceResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if result.Failed() {
		if err := jw.encoder.Encode(result.Err); err != nil {
			return fmt.Errorf("encode json error: %w", err)
		}
	}
	for _, record := range result.Records {
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes an owned file.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return jw.out.close()
}

// Validate ensures an owned JSONL file has data.
func (jw *JSONLWriter) Validate() error {
	return jw.out.validate()
}

var csvHeader = []string{"city", "price", "avg"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	out    output
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := openOutput(filename)
	if err != nil {
		return nil, err
	}
	cw, err := newCSVWriter(out)
	if err != nil {
		out.close()
		return nil, err
	}
	return cw, nil
}

// NewCSVStreamWriter writes the header row and records to w.
func NewCSVStreamWriter(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(output{w: w})
}

func newCSVWriter(out output) (*CSVWriter, error) {
	writer := csv.NewWriter(out.w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return &CSVWriter{out: out, writer: writer}, nil
}

// Write appends records to the CSV output. CSV has no error shape, so a
// failed result is returned as an error.
func (cw *CSVWriter) Write(result models.PriceResult) error {
	if result.Failed() {
		return result.Err
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, record := range result.Records {
		row := []string{
			record.City,
			strconv.FormatFloat(record.Price, 'f', -1, 64),
			strconv.FormatFloat(record.Avg, 'f', -1, 64),
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes an owned file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.out.close()
}

// Validate ensures an owned CSV file has content.
func (cw *CSVWriter) Validate() error {
	return cw.out.validate()
}

// DualWriter outputs to both CSV and JSON files.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates a writer for both CSV and JSON output.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes the result to both files.
func (dw *DualWriter) Write(result models.PriceResult) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(result); err != nil {
		return fmt.Errorf("csv write failed: %w", err)
	}
	if err := dw.jsonWriter.Write(result); err != nil {
		return fmt.Errorf("json write failed: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv close failed: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close failed: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors: %v", errs)
	}
	return nil
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv validation failed: %w", err))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json validation failed: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
