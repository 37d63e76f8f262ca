package threadline

import (
	"strings"
	"testing"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeQuery_SizeLimit(t *testing.T) {
	limit := 4096
	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeQuery(strings.Repeat("a", tt.inputSize), 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
				assert.ErrorIs(t, err, domain.ErrInvalidQuery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeQuery_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Hello World", "Hello World"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"},
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Surrounding Space", "  weather?\n", "weather?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeQuery(tt.input, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSanitizeQuery_Rejects(t *testing.T) {
	_, err := SanitizeQuery(" \t\x07 ", 0)
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = SanitizeQuery("bad \xff byte", 0)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
	assert.True(t, IsInvalidQuery(err))
}

func TestSanitizeQuery_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "10")

	_, err := SanitizeQuery("12345678901", 0)
	assert.Error(t, err)

	_, err = SanitizeQuery("12345", 0)
	assert.NoError(t, err)

	_, err = SanitizeQuery("12345678901", 20)
	assert.NoError(t, err)
}
