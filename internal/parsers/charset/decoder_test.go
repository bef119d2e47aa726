package charset

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
	}{
		{"", EncodingUTF8},
		{"UTF-8", EncodingUTF8},
		{"auto", EncodingAuto},
		{"cp1250", EncodingWindows1250},
		{"ISO-8859-2", EncodingISO88592},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Parse("ebcdic")
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, EncodingUTF8, Detect([]byte("name;email\nŠime;sime@example.com\n")))

	cut := []byte("name\nŠ")
	assert.Equal(t, EncodingUTF8, Detect(cut[:len(cut)-1]), "truncated trailing rune is tolerated")

	// "Šifra" in Windows-1250
	assert.Equal(t, EncodingWindows1250, Detect([]byte{0x8A, 'i', 'f', 'r', 'a', '\n'}))
	assert.Equal(t, EncodingWindows1250, Detect([]byte{0x8A, 0xF0}))
}

func TestNewReader(t *testing.T) {
	tests := []struct {
		name string
		enc  Encoding
		in   []byte
		want string
	}{
		{name: "windows-1250", enc: EncodingWindows1250, in: []byte{0x8A, 0x9E, 0xE8}, want: "Šžč"},
		{name: "iso-8859-2", enc: EncodingISO88592, in: []byte{0xA9, 0xBE, 0xE8}, want: "Šžč"},
		{name: "utf-8 passthrough", enc: EncodingUTF8, in: []byte("Šžč"), want: "Šžč"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(string(tt.in)), tt.enc)
			require.NoError(t, err)
			out, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}

	_, err := NewReader(strings.NewReader(""), "ebcdic")
	assert.Error(t, err)
}
