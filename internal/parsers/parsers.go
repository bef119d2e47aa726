// Package parsers is the front door of the row decoder. It picks a concrete
// decoder from the file extension and exposes a uniform row source.
package parsers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/recoverydesk/case-service/internal/parsers/charset"
	"github.com/recoverydesk/case-service/internal/parsers/csv"
	"github.com/recoverydesk/case-service/internal/parsers/xlsx"
	"github.com/recoverydesk/case-service/internal/types"
)

// RowSource is a finite, forward-only sequence of decoded rows. Next returns
// io.EOF after the last row. To restart, open the file again.
type RowSource interface {
	Fields() []string
	Next() (types.DecodedRow, error)
	Close() error
}

// Options configures decoding of delimited text files
type Options struct {
	Encoding  charset.Encoding
	Delimiter csv.Delimiter
}

// Format identifies a supported file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatForFilename returns the format implied by a filename's extension
func FormatForFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q", filepath.Ext(name))
	}
}

// NewSource builds a RowSource over r. The returned source closes r when it
// implements io.Closer.
func NewSource(r io.Reader, format Format, opts Options) (RowSource, error) {
	var (
		src RowSource
		err error
	)
	switch format {
	case FormatCSV:
		src, err = csv.NewDecoder(r, csv.Options{Delimiter: opts.Delimiter, Encoding: opts.Encoding})
	case FormatXLSX:
		src, err = xlsx.NewDecoder(r)
	default:
		err = &types.DecodeError{Err: fmt.Errorf("unsupported format %q", format)}
	}
	if err != nil {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		return &closingSource{RowSource: src, closer: c}, nil
	}
	return src, nil
}

// Open opens the file at path and decodes it according to its extension
func Open(path string, opts Options) (RowSource, error) {
	format, err := FormatForFilename(path)
	if err != nil {
		return nil, &types.DecodeError{Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.DecodeError{Err: fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)}
	}
	return NewSource(f, format, opts)
}

// ReadAll drains src into memory
func ReadAll(src RowSource) ([]types.DecodedRow, error) {
	rows := make([]types.DecodedRow, 0, 64)
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

type closingSource struct {
	RowSource
	closer io.Closer
}

func (s *closingSource) Close() error {
	return errors.Join(s.RowSource.Close(), s.closer.Close())
}
