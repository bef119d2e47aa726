package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown task identifiers and missing records
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when triggering a task that is active or finished
	ErrConflict = errors.New("conflict")
)

// IntakeError describes a rejected upload
type IntakeError struct {
	Reason string
}

func (e *IntakeError) Error() string {
	return e.Reason
}

// DecodeError is fatal to a task: the source could not be read as tabular text
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode failed at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RowError is recorded on the task and the row is skipped
type RowError struct {
	Row     int
	Field   string
	Message string
	Err     error
}

func (e *RowError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, msg)
	}
	return fmt.Sprintf("row %d: %s", e.Row, msg)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// BatchCommitError means one batch was rolled back; earlier batches stay committed
type BatchCommitError struct {
	FirstRow int
	LastRow  int
	Err      error
}

func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("batch rows %d-%d rolled back: %v", e.FirstRow, e.LastRow, e.Err)
}

func (e *BatchCommitError) Unwrap() error {
	return e.Err
}

// DispatchError is logged only; it never changes task state
type DispatchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	msg := "webhook delivery to " + e.URL + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
