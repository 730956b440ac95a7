package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout indicates a timeout while talking to the report form.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrMarkup indicates a page that could not be parsed.
type ErrMarkup struct {
	Err error
}

func (e ErrMarkup) Error() string {
	return fmt.Errorf("markup: %w", e.Err).Error()
}

func (e ErrMarkup) Unwrap() error {
	return e.Err
}

// classifyError wraps transport failures in a typed error. Upstream status
// codes never reach here: error pages are parsed like any other page.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var markup ErrMarkup
	if errors.As(err, &markup) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var markup ErrMarkup
	if errors.As(err, &markup) {
		return "markup"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
