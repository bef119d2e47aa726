package xlsx

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/recoverydesk/case-service/internal/types"
)

// ErrNoSheets is wrapped in a DecodeError for workbooks without worksheets
var ErrNoSheets = errors.New("workbook has no sheets")

// Decoder streams the first worksheet of a workbook. The first row is the
// header, following the same width rules as the CSV decoder.
type Decoder struct {
	file   *excelize.File
	rows   *excelize.Rows
	fields []string
	index  int
	line   int
}

// NewDecoder opens a workbook from r and reads its header row
func NewDecoder(r io.Reader) (*Decoder, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &types.DecodeError{Err: fmt.Errorf("failed to open workbook: %w", err)}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, &types.DecodeError{Err: ErrNoSheets}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, &types.DecodeError{Err: fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)}
	}

	d := &Decoder{file: f, rows: rows}

	header, err := d.nextRecord()
	if err != nil {
		_ = d.Close()
		if errors.Is(err, io.EOF) {
			return nil, &types.DecodeError{Line: 1, Err: errors.New("missing header row")}
		}
		return nil, err
	}

	fields := make([]string, len(header))
	named := false
	for i, h := range header {
		fields[i] = strings.TrimSpace(h)
		if fields[i] != "" {
			named = true
		}
	}
	if !named {
		_ = d.Close()
		return nil, &types.DecodeError{Line: d.line, Err: errors.New("missing header row")}
	}
	d.fields = fields
	return d, nil
}

// Fields returns the header names in column order
func (d *Decoder) Fields() []string {
	return d.fields
}

// Next returns the next non-blank data row, or io.EOF
func (d *Decoder) Next() (types.DecodedRow, error) {
	for {
		record, err := d.nextRecord()
		if err != nil {
			return types.DecodedRow{}, err
		}
		row := types.NewDecodedRow(d.index+1, d.fields, record)
		if row.IsBlank() {
			continue
		}
		d.index++
		return row, nil
	}
}

// Close releases the workbook
func (d *Decoder) Close() error {
	var errs []error
	if d.rows != nil {
		errs = append(errs, d.rows.Close())
	}
	if d.file != nil {
		errs = append(errs, d.file.Close())
	}
	return errors.Join(errs...)
}

func (d *Decoder) nextRecord() ([]string, error) {
	if !d.rows.Next() {
		if err := d.rows.Error(); err != nil {
			return nil, &types.DecodeError{Line: d.line + 1, Err: err}
		}
		return nil, io.EOF
	}
	d.line++
	cols, err := d.rows.Columns()
	if err != nil {
		return nil, &types.DecodeError{Line: d.line, Err: err}
	}
	return cols, nil
}
