package charset

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encoding represents a text encoding accepted for uploaded files
type Encoding string

const (
	EncodingAuto        Encoding = "auto"
	EncodingUTF8        Encoding = "utf-8"
	EncodingWindows1250 Encoding = "windows-1250"
	EncodingISO88592    Encoding = "iso-8859-2"
)

// Parse normalizes a configured encoding name
func Parse(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "auto":
		return EncodingAuto, nil
	case "windows-1250", "cp1250":
		return EncodingWindows1250, nil
	case "iso-8859-2", "latin2":
		return EncodingISO88592, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
}

// Detect guesses the encoding of a sample. Valid UTF-8 wins; anything else
// is treated as Windows-1250, the most common legacy export encoding we see.
func Detect(sample []byte) Encoding {
	if utf8.Valid(sample) {
		return EncodingUTF8
	}
	// A multibyte rune may be cut at the end of the sample.
	for cut := 1; cut < utf8.UTFMax && cut <= len(sample); cut++ {
		tail := sample[len(sample)-cut:]
		if utf8.RuneStart(tail[0]) && !utf8.FullRune(tail) {
			if utf8.Valid(sample[:len(sample)-cut]) {
				return EncodingUTF8
			}
			break
		}
	}
	return EncodingWindows1250
}

// NewReader wraps r so that it yields UTF-8. UTF-8 input is passed through
// unchanged; validation is left to the caller.
func NewReader(r io.Reader, enc Encoding) (io.Reader, error) {
	switch enc {
	case EncodingUTF8, "":
		return r, nil
	case EncodingWindows1250:
		return transform.NewReader(r, charmap.Windows1250.NewDecoder()), nil
	case EncodingISO88592:
		return transform.NewReader(r, charmap.ISO8859_2.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}
