// Package cli adapts print-and-exit command line assistants to the provider contract.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/toolcall"
	"ai-daemon/pkg/store"
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultProbeTimeout = 5 * time.Second

	readChunkSize = 4096
	waitDelay     = 2 * time.Second
)

// Config describes one CLI-backed provider.
type Config struct {
	ID           string
	Name         string
	Command      string
	Model        string
	Capabilities []string
	Enabled      bool
	Dialect      Dialect
	APIKey       string
	// Env is appended to the daemon's environment as KEY=VALUE pairs.
	Env          []string
	Timeout      time.Duration
	ProbeArgs    []string
	ProbeTimeout time.Duration
}

type Adapter struct {
	provider.Base
	cfg    Config
	logger logger.ILogger
}

func New(cfg Config, log logger.ILogger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if len(cfg.ProbeArgs) == 0 {
		cfg.ProbeArgs = []string{"--version"}
	}
	if !cfg.Dialect.Valid() {
		cfg.Dialect = DialectClaude
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Adapter{
		Base:   provider.NewBase(cfg.ID, cfg.Name, cfg.Model, cfg.Capabilities, cfg.Enabled),
		cfg:    cfg,
		logger: log,
	}
}

func (a *Adapter) module() string {
	return "Provider:" + a.ID()
}

// IsAvailable runs the probe command and reports whether it exited cleanly in time.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.cfg.Command, a.cfg.ProbeArgs...)
	cmd.Env = a.environ()
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		a.logger.Debug(a.module(), "Availability probe failed", map[string]interface{}{
			"command": a.cfg.Command,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

func (a *Adapter) ParseOutput(raw string) provider.Result {
	return a.parse(raw).Result()
}

func (a *Adapter) parse(raw string) toolcall.Parsed {
	if a.cfg.Dialect == DialectOpenAI {
		return parseCompletion(raw)
	}
	return toolcall.Parse(raw)
}

func (a *Adapter) SendMessage(ctx context.Context, turn string, dc store.DocumentContext, onFragment provider.FragmentFunc) (provider.Result, error) {
	return a.SendWithSystemPrompt(ctx, a.BuildSystemPrompt(dc), turn, dc, onFragment)
}

// SendWithSystemPrompt runs the CLI once with an already rendered preamble.
func (a *Adapter) SendWithSystemPrompt(ctx context.Context, systemPrompt, turn string, dc store.DocumentContext, onFragment provider.FragmentFunc) (provider.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	args := buildArgs(a.cfg.Dialect, a.cfg.Model, a.cfg.APIKey, systemPrompt, turn, dc.History)
	cmd := exec.CommandContext(runCtx, a.cfg.Command, args...)
	cmd.Env = a.environ()
	cmd.WaitDelay = waitDelay

	// stdout goes through an io.Pipe so that WaitDelay can cut off descendants that keep
	// the descriptor open after the CLI itself was killed.
	var stderr bytes.Buffer
	pr, pw := io.Pipe()
	cmd.Stderr = &stderr
	cmd.Stdout = pw

	a.logger.Info(a.module(), "Spawning CLI", map[string]interface{}{
		"command":       a.cfg.Command,
		"args":          len(args),
		"prompt_length": len(args[len(args)-1]),
	})

	if err := cmd.Start(); err != nil {
		pw.Close()
		return provider.Result{}, provider.Unavailable(a.Name(), err)
	}

	var waitErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		waitErr = cmd.Wait()
		pw.Close()
	}()

	var relay provider.FragmentFunc
	if a.cfg.Dialect.streams() {
		relay = onFragment
	}
	output, readErr := readStream(pr, relay)
	<-done

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return provider.Result{}, provider.Timeout(a.Name(), a.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return provider.Result{}, fmt.Errorf("%s: %w", a.Name(), ctx.Err())
	}
	if readErr != nil && output == "" {
		return provider.Result{}, provider.Unavailable(a.Name(), readErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return provider.Result{}, provider.Unavailable(a.Name(), waitErr)
		}
		if strings.TrimSpace(output) == "" {
			diag := stderr.String()
			if strings.TrimSpace(diag) == "" {
				diag = "exited without output"
			}
			return provider.Result{}, &provider.ProcessError{
				Provider:   a.Name(),
				ExitCode:   exitErr.ExitCode(),
				Diagnostic: diag,
			}
		}
		a.logger.Warn(a.module(), "CLI exited non-zero with output, keeping output", map[string]interface{}{
			"exit_code": exitErr.ExitCode(),
			"stderr":    truncate(stderr.String(), 200),
		})
	}

	parsed := a.parse(output)
	for _, m := range parsed.Malformed {
		a.logger.Warn(a.module(), "Skipped malformed function call", map[string]interface{}{"error": m.Error()})
	}
	if !a.cfg.Dialect.streams() && onFragment != nil && parsed.Text != "" {
		onFragment(parsed.Text)
	}

	a.logger.Info(a.module(), "CLI completed", map[string]interface{}{
		"output_length":  len(output),
		"function_calls": len(parsed.Calls),
	})
	return parsed.Result(), nil
}

func (a *Adapter) environ() []string {
	env := append(os.Environ(), "TERM=dumb", "CI=true", "FORCE_COLOR=0", "NO_COLOR=1")
	return append(env, a.cfg.Env...)
}

// readStream drains r, relaying each chunk to onFragment as soon as it forms complete
// UTF-8. Trailing bytes of a split code point are carried into the next chunk.
func readStream(r io.Reader, onFragment provider.FragmentFunc) (string, error) {
	var (
		all   strings.Builder
		carry []byte
		buf   = make([]byte, readChunkSize)
	)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := completePrefix(chunk)
			carry = append([]byte(nil), chunk[cut:]...)
			if cut > 0 {
				text := string(chunk[:cut])
				all.WriteString(text)
				if onFragment != nil {
					onFragment(text)
				}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				text := string(carry)
				all.WriteString(text)
				if onFragment != nil {
					onFragment(text)
				}
			}
			if errors.Is(err, io.EOF) {
				return all.String(), nil
			}
			return all.String(), err
		}
	}
}

// completePrefix returns the length of the longest prefix of b that does not end inside
// an incomplete multi-byte sequence.
func completePrefix(b []byte) int {
	// a code point is at most 4 bytes, so only the tail needs checking
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
