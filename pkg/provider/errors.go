package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// maxDiagnostic caps the diagnostic bytes carried into an error message.
const maxDiagnostic = 500

var (
	// ErrBackendUnavailable means the backend could not be reached or started.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout means no terminal response arrived inside the adapter's window.
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrBackendProcess means the backend answered with a failure.
	ErrBackendProcess = errors.New("backend process error")
)

// ProcessError carries the backend's own diagnostics (stderr or a non-2xx body).
type ProcessError struct {
	Provider   string
	ExitCode   int
	StatusCode int
	Diagnostic string
}

func (e *ProcessError) Error() string {
	diag := strings.TrimSpace(e.Diagnostic)
	if len(diag) > maxDiagnostic {
		cut := maxDiagnostic - 3
		for cut > 0 && !utf8.RuneStart(diag[cut]) {
			cut--
		}
		diag = diag[:cut] + "..."
	}
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, diag)
	default:
		return fmt.Sprintf("%s CLI error (code %d): %s", e.Provider, e.ExitCode, diag)
	}
}

func (e *ProcessError) Unwrap() error {
	return ErrBackendProcess
}

// Unavailable wraps cause as ErrBackendUnavailable for the named provider.
func Unavailable(providerName string, cause error) error {
	return fmt.Errorf("%s: %w: %v", providerName, ErrBackendUnavailable, cause)
}

// Timeout builds an ErrBackendTimeout for the named provider.
func Timeout(providerName string, window time.Duration) error {
	return fmt.Errorf("%s: %w after %v", providerName, ErrBackendTimeout, window)
}
