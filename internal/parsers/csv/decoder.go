package csv

import (
	"bufio"
	"bytes"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/recoverydesk/case-service/internal/parsers/charset"
	"github.com/recoverydesk/case-service/internal/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrMissingHeader is wrapped in a DecodeError when the input has no header row
var ErrMissingHeader = errors.New("missing header row")

// Options configures a Decoder
type Options struct {
	// Delimiter is detected from the header line when empty
	Delimiter Delimiter
	Encoding  charset.Encoding
}

// Decoder streams delimited text into DecodedRows. The first record is the
// header; later records are padded or truncated to its width.
type Decoder struct {
	r      *stdcsv.Reader
	fields []string
	index  int
	strict bool
}

// NewDecoder reads the header row from r and returns a Decoder positioned at
// the first data row. Every failure is a *types.DecodeError.
func NewDecoder(r io.Reader, opts Options) (*Decoder, error) {
	br := bufio.NewReaderSize(r, 8192)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	enc := opts.Encoding
	if enc == charset.EncodingAuto {
		sample, _ := br.Peek(4096)
		enc = charset.Detect(sample)
	}

	src, err := charset.NewReader(br, enc)
	if err != nil {
		return nil, &types.DecodeError{Err: err}
	}

	sr := bufio.NewReaderSize(src, 8192)
	delim := opts.Delimiter
	if delim == "" {
		sample, _ := sr.Peek(2000)
		delim = DetectDelimiterFromBytes(sample)
	}

	cr := stdcsv.NewReader(sr)
	cr.Comma = rune(delim[0])
	cr.FieldsPerRecord = -1

	d := &Decoder{r: cr, strict: enc == charset.EncodingUTF8 || enc == ""}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &types.DecodeError{Line: 1, Err: ErrMissingHeader}
	}
	if err != nil {
		return nil, d.wrap(err)
	}
	if err := d.checkUTF8(header); err != nil {
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
		return nil, &types.DecodeError{Line: 1, Err: ErrMissingHeader}
	}
	d.fields = fields
	return d, nil
}

// Fields returns the header names in file order
func (d *Decoder) Fields() []string {
	return d.fields
}

// Next returns the next data row, or io.EOF after the last one.
// Rows whose values are all empty are skipped.
func (d *Decoder) Next() (types.DecodedRow, error) {
	for {
		record, err := d.r.Read()
		if errors.Is(err, io.EOF) {
			return types.DecodedRow{}, io.EOF
		}
		if err != nil {
			return types.DecodedRow{}, d.wrap(err)
		}
		if err := d.checkUTF8(record); err != nil {
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

// Close is a no-op; the caller owns the underlying reader
func (d *Decoder) Close() error {
	return nil
}

func (d *Decoder) checkUTF8(record []string) error {
	if !d.strict {
		return nil
	}
	for i, v := range record {
		if !utf8.ValidString(v) {
			line, _ := d.r.FieldPos(i)
			return &types.DecodeError{Line: line, Err: fmt.Errorf("invalid UTF-8 in field %d", i+1)}
		}
	}
	return nil
}

func (d *Decoder) wrap(err error) error {
	var pe *stdcsv.ParseError
	if errors.As(err, &pe) {
		return &types.DecodeError{Line: pe.Line, Err: pe.Err}
	}
	return &types.DecodeError{Err: err}
}
