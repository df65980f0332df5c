package provider

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestProcessErrorTruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name       string
		diagnostic string
	}{
		{name: "ascii", diagnostic: strings.Repeat("x", 800)},
		{name: "two byte runes", diagnostic: strings.Repeat("é", 400)},
		{name: "three byte runes", diagnostic: "a" + strings.Repeat("エ", 300)},
		{name: "four byte runes", diagnostic: strings.Repeat("🙂", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &ProcessError{Provider: "claude", ExitCode: 1, Diagnostic: tt.diagnostic}
			msg := err.Error()

			assert.True(t, utf8.ValidString(msg), "message is valid UTF-8")
			assert.True(t, strings.HasSuffix(msg, "..."))
			diag := strings.TrimPrefix(msg, "claude CLI error (code 1): ")
			assert.LessOrEqual(t, len(diag), maxDiagnostic)
			assert.True(t, strings.HasPrefix(tt.diagnostic, strings.TrimSuffix(diag, "...")))
		})
	}
}

func TestProcessErrorKeepsShortDiagnostic(t *testing.T) {
	err := &ProcessError{Provider: "gemini", StatusCode: 429, Diagnostic: "  quota exceeded ✗ \n"}

	assert.Equal(t, "gemini API error (429): quota exceeded ✗", err.Error())
	assert.True(t, errors.Is(err, ErrBackendProcess))
}
