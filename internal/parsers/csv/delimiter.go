package csv

import (
	"strings"
)

// Delimiter represents supported CSV delimiters
type Delimiter string

const (
	DelimiterComma     Delimiter = ","
	DelimiterSemicolon Delimiter = ";"
	DelimiterTab       Delimiter = "\t"
)

// ParseDelimiter maps a configured value to a delimiter; empty means detect
func ParseDelimiter(s string) (Delimiter, bool) {
	switch s {
	case "":
		return "", true
	case ",", "comma":
		return DelimiterComma, true
	case ";", "semicolon":
		return DelimiterSemicolon, true
	case "\t", "\\t", "tab":
		return DelimiterTab, true
	}
	return "", false
}

// DetectDelimiter picks the delimiter whose count is most consistent across
// the first few non-empty lines of content
func DetectDelimiter(content string) Delimiter {
	sampleLines := make([]string, 0, 5)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			sampleLines = append(sampleLines, trimmed)
			if len(sampleLines) >= 5 {
				break
			}
		}
	}

	// The last line of a sample may be truncated.
	if len(sampleLines) > 1 && !strings.HasSuffix(content, "\n") {
		sampleLines = sampleLines[:len(sampleLines)-1]
	}

	if len(sampleLines) == 0 {
		return DelimiterComma
	}

	best := DelimiterComma
	maxConsistency := 0.0

	for _, delim := range []Delimiter{DelimiterComma, DelimiterSemicolon, DelimiterTab} {
		sum := 0
		counts := make([]int, 0, len(sampleLines))
		for _, line := range sampleLines {
			c := strings.Count(line, string(delim))
			counts = append(counts, c)
			sum += c
		}
		avg := float64(sum) / float64(len(counts))
		if avg == 0 {
			continue
		}

		variance := 0.0
		for _, c := range counts {
			diff := float64(c) - avg
			variance += diff * diff
		}
		variance /= float64(len(counts))

		consistency := avg / (1.0 + variance)
		if consistency > maxConsistency {
			maxConsistency = consistency
			best = delim
		}
	}

	return best
}

// DetectDelimiterFromBytes detects the delimiter from the start of raw data
func DetectDelimiterFromBytes(data []byte) Delimiter {
	if len(data) > 2000 {
		data = data[:2000]
	}
	return DetectDelimiter(string(data))
}
