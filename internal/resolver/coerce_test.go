package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"blank is zero", "", 0, false},
		{"whitespace is zero", "   ", 0, false},
		{"plain integer", "120", 12000, false},
		{"US decimal", "12.99", 1299, false},
		{"EU decimal", "12,99", 1299, false},
		{"EU thousands", "1.299,00", 129900, false},
		{"US thousands", "1,299.50", 129950, false},
		{"currency symbol", "$1,500.00", 150000, false},
		{"currency suffix", "1 299,00 EUR", 129900, false},
		{"euro sign", "€ 45.10", 4510, false},
		{"negative credit", "-15.25", -1525, false},
		{"rounding", "10.9999", 1100, false},
		{"round half up", "0.125", 13, false},
		{"US thousands without decimals", "1,234", 123400, false},
		{"EU thousands without decimals", "1.234", 123400, false},
		{"repeated US thousands", "1,234,567", 123456700, false},
		{"repeated EU thousands", "1.234.567", 123456700, false},
		{"leading zero keeps decimals", "0,250", 25, false},
		{"explicit plus", "+7.5", 750, false},
		{"misplaced group", "1,23,456", 0, true},
		{"two decimal points", "1.234,5,6", 0, true},
		{"hex float", "0X1P-2", 0, true},
		{"exponent", "1e3", 0, true},
		{"dangling separator", "12,", 0, true},
		{"out of range", "999999999999999999999", 0, true},
		{"letters", "abc", 0, true},
		{"trailing garbage", "12.5x", 0, true},
		{"two numbers", "12 13 a", 0, true},
		{"NaN", "NaN", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAgingDays(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"30", 30, false},
		{" 45 ", 45, false},
		{"30.0", 30, false},
		{"30.5", 0, true},
		{"-1", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAgingDays(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "12.99", FormatCents(1299))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "-15.25", FormatCents(-1525))
}

func TestNormalizeEmail(t *testing.T) {
	got, err := normalizeEmail("  Ana@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got)

	for _, bad := range []string{"ana", "@example.com", "ana@", "a@b@c", "ana smith@example.com"} {
		_, err := normalizeEmail(bad)
		assert.Error(t, err, bad)
	}
}
