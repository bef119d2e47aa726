package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of an ingestion task
type TaskStatus string

const (
	StatusReceived   TaskStatus = "received"
	StatusProcessing TaskStatus = "processing"
	StatusAssigning  TaskStatus = "assigning"
	StatusDone       TaskStatus = "done"
	StatusError      TaskStatus = "error"
)

// IsTerminal reports whether no further transition can leave this status
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// IsActive reports whether a worker currently owns the task
func (s TaskStatus) IsActive() bool {
	return s == StatusProcessing || s == StatusAssigning
}

// TaskResult summarizes a finished ingestion run
type TaskResult struct {
	CasesCreated     int `json:"cases_created"`
	CustomersCreated int `json:"customers_created"`
	RowsSkipped      int `json:"rows_skipped"`
	BatchesFailed    int `json:"batches_failed"`
}

// Task is the observable state of one bulk-ingestion run
type Task struct {
	ID               string      `json:"id"`
	Status           TaskStatus  `json:"status"`
	Message          string      `json:"message"`
	TotalRows        int         `json:"totalRows"`
	CurrentProcessed int         `json:"currentProcessed"`
	Filepath         string      `json:"filepath"`
	Filename         string      `json:"filename,omitempty"`
	FileSwept        bool        `json:"fileSwept,omitempty"`
	Errors           []string    `json:"errors"`
	Result           *TaskResult `json:"result,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	FinishedAt       *time.Time  `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a registry
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Errors = append([]string(nil), t.Errors...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// Snapshot projects the task onto the progress event shape
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		TaskID:          t.ID,
		Status:          t.Status,
		Message:         t.Message,
		CurrentAssigned: t.CurrentProcessed,
		TotalRows:       t.TotalRows,
		ErrorCount:      len(t.Errors),
	}
	if t.Result != nil {
		r := *t.Result
		s.Result = &r
	}
	return s
}

// Snapshot is one progress event emitted to observers
type Snapshot struct {
	TaskID          string      `json:"taskId"`
	Status          TaskStatus  `json:"status"`
	Message         string      `json:"message"`
	CurrentAssigned int         `json:"currentAssigned"`
	TotalRows       int         `json:"totalRows"`
	ErrorCount      int         `json:"errorCount,omitempty"`
	Result          *TaskResult `json:"result,omitempty"`
}

// DecodedRow is one source row keyed by header name, in header order.
// Fields is shared between all rows of a file and must not be modified.
type DecodedRow struct {
	Index  int
	Fields []string
	Values []string
}

// NewDecodedRow aligns a raw record to the header: missing trailing values
// become empty strings, extra values are dropped.
func NewDecodedRow(index int, fields []string, record []string) DecodedRow {
	values := make([]string, len(fields))
	copy(values, record)
	return DecodedRow{Index: index, Fields: fields, Values: values}
}

// Get returns the value stored under an exact header name
func (r DecodedRow) Get(field string) (string, bool) {
	for i, f := range r.Fields {
		if f == field {
			return r.Values[i], true
		}
	}
	return "", false
}

// Map returns the row as an unordered map
func (r DecodedRow) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for i, f := range r.Fields {
		if _, ok := m[f]; !ok {
			m[f] = r.Values[i]
		}
	}
	return m
}

// IsBlank reports whether every value is empty after trimming
func (r DecodedRow) IsBlank() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as a JSON object preserving header order.
// A repeated header keeps its first value.
func (r DecodedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]struct{}, len(r.Fields))
	first := true
	for i, f := range r.Fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
