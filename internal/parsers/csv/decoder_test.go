package csv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/case-service/internal/parsers/charset"
	"github.com/recoverydesk/case-service/internal/types"
)

func decodeAll(t *testing.T, input string, opts Options) ([]types.DecodedRow, error) {
	t.Helper()
	d, err := NewDecoder(strings.NewReader(input), opts)
	if err != nil {
		return nil, err
	}
	var rows []types.DecodedRow
	for {
		row, err := d.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func TestDecoderRowWidth(t *testing.T) {
	input := "name,email,amount\nAna,ana@example.com\nIvo,ivo@example.com,12.50,extra\n"
	rows, err := decodeAll(t, input, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	amount, ok := rows[0].Get("amount")
	assert.True(t, ok)
	assert.Equal(t, "", amount, "missing trailing field maps to empty string")

	assert.Equal(t, []string{"Ivo", "ivo@example.com", "12.50"}, rows[1].Values, "extra fields are ignored")
	assert.Equal(t, 1, rows[0].Index)
	assert.Equal(t, 2, rows[1].Index)
}

func TestDecoderHeader(t *testing.T) {
	t.Run("BOM and padding are stripped", func(t *testing.T) {
		rows, err := decodeAll(t, "\ufeff name , email \nAna,ana@example.com\n", Options{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"name", "email"}, rows[0].Fields)
	})

	t.Run("empty input has no header", func(t *testing.T) {
		_, err := decodeAll(t, "", Options{})
		var de *types.DecodeError
		require.ErrorAs(t, err, &de)
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("blank header names only", func(t *testing.T) {
		_, err := decodeAll(t, ",,\n1,2,3\n", Options{})
		assert.ErrorIs(t, err, ErrMissingHeader)
	})
}

func TestDecoderSkipsBlankRows(t *testing.T) {
	rows, err := decodeAll(t, "name,email\nAna,a@x.io\n,\n\nIvo,i@x.io\n", Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[1].Index)
}

func TestDecoderMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated quote", "name,email\n\"Ana,ana@example.com\n"},
		{"bare quote in field", "name,email\nA\"na,ana@example.com\n"},
		{"invalid utf-8", "name,email\n\xff\xfeAna,ana@example.com\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeAll(t, tt.input, Options{Encoding: charset.EncodingUTF8})
			var de *types.DecodeError
			require.ErrorAs(t, err, &de)
			assert.GreaterOrEqual(t, de.Line, 2)
		})
	}
}

func TestDecoderWindows1250(t *testing.T) {
	input := "name;email\n\x8Aime;sime@example.com\n"
	rows, err := decodeAll(t, input, Options{Encoding: charset.EncodingWindows1250})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	name, _ := rows[0].Get("name")
	assert.Equal(t, "Šime", name)

	rows, err = decodeAll(t, input, Options{Encoding: charset.EncodingAuto})
	require.NoError(t, err)
	name, _ = rows[0].Get("name")
	assert.Equal(t, "Šime", name)
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected Delimiter
	}{
		{"comma", "a,b,c\n1,2,3\n", DelimiterComma},
		{"semicolon", "a;b;c\n1;2,5;3\n", DelimiterSemicolon},
		{"tab", "a\tb\tc\n1\t2\t3\n", DelimiterTab},
		{"single column", "email\nx@y.z\n", DelimiterComma},
		{"empty", "", DelimiterComma},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectDelimiter(tt.content))
		})
	}
}

func TestParseDelimiter(t *testing.T) {
	d, ok := ParseDelimiter("semicolon")
	assert.True(t, ok)
	assert.Equal(t, DelimiterSemicolon, d)

	d, ok = ParseDelimiter("")
	assert.True(t, ok)
	assert.Equal(t, Delimiter(""), d)

	_, ok = ParseDelimiter("|")
	assert.False(t, ok)
}
