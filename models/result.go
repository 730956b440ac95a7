package models

import "encoding/json"

// ScrapeError is the recoverable failure marker carried through the pipeline
// in place of a table or a record list.
type ScrapeError struct {
	Message string `json:"error"`
	Kind    string `json:"-"`
	Err     error  `json:"-"`
}

// NewScrapeError wraps err, keeping its text as the user-visible message.
func NewScrapeError(kind string, err error) *ScrapeError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ScrapeError{Message: msg, Kind: kind, Err: err}
}

func (e *ScrapeError) Error() string {
	return e.Message
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// FetchResult holds exactly one of Table or Err.
type FetchResult struct {
	Table RawTable
	Err   *ScrapeError
}

// Failed reports whether the fetch produced an error marker.
func (r FetchResult) Failed() bool {
	return r.Err != nil
}

// PriceResult holds exactly one of Records or Err.
type PriceResult struct {
	Records []CityRecord
	Err     *ScrapeError
}

// Failed reports whether the result carries an error marker.
func (r PriceResult) Failed() bool {
	return r.Err != nil
}

// MarshalJSON encodes the result as either a record array or {"error": "..."}.
func (r PriceResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(r.Err)
	}
	if r.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Records)
}
