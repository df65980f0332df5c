package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newAdapter(command string, mutate func(*Config)) *Adapter {
	cfg := Config{
		ID:           "claude",
		Name:         "Claude",
		Command:      command,
		Capabilities: []string{"editing"},
		Enabled:      true,
		Dialect:      DialectClaude,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil)
}

func TestSendMessageStreamsAndParses(t *testing.T) {
	script := writeScript(t, `printf 'Hello '
printf 'world <tool_use>{"name": "searchVault", "parameters": {"query": "cats"}}</tool_use>'`)
	a := newAdapter(script, nil)

	var fragments []string
	res, err := a.SendMessage(context.Background(), "find cats", store.DocumentContext{}, func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", res.Text)
	require.Len(t, res.FunctionCalls, 1)
	assert.Equal(t, provider.FunctionSearchVault, res.FunctionCalls[0].Name)
	assert.Equal(t, "cats", res.FunctionCalls[0].Arguments["query"])

	require.NotEmpty(t, fragments)
	assert.Equal(t, `Hello world <tool_use>{"name": "searchVault", "parameters": {"query": "cats"}}</tool_use>`, strings.Join(fragments, ""))
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		command string
		timeout time.Duration
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "missing executable",
			command: "/nonexistent/definitely-not-a-cli",
			wantErr: provider.ErrBackendUnavailable,
		},
		{
			name:    "non-zero exit without output",
			body:    `echo "quota exceeded" >&2; exit 3`,
			wantErr: provider.ErrBackendProcess,
			check: func(t *testing.T, err error) {
				var pe *provider.ProcessError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, 3, pe.ExitCode)
				assert.Contains(t, pe.Diagnostic, "quota exceeded")
				assert.Contains(t, err.Error(), "CLI error (code 3)")
			},
		},
		{
			name:    "timeout kills the process",
			body:    `exec sleep 5`,
			timeout: 200 * time.Millisecond,
			wantErr: provider.ErrBackendTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command := tt.command
			if command == "" {
				command = writeScript(t, tt.body)
			}
			a := newAdapter(command, func(c *Config) { c.Timeout = tt.timeout })

			start := time.Now()
			_, err := a.SendMessage(context.Background(), "hi", store.DocumentContext{}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Less(t, time.Since(start), 4*time.Second)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestSendMessageKeepsOutputOnNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "partial answer"; echo "warning" >&2; exit 1`)
	a := newAdapter(script, nil)

	res, err := a.SendMessage(context.Background(), "hi", store.DocumentContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", res.Text)
}

func TestSendMessageParentCancellation(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	a := newAdapter(script, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := a.SendMessage(ctx, "hi", store.DocumentContext{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, provider.ErrBackendTimeout)
}

func TestSendMessagePassesExtraEnv(t *testing.T) {
	script := writeScript(t, `printf '%s' "$ANTHROPIC_BASE_URL"`)
	a := newAdapter(script, func(c *Config) {
		c.Env = []string{"ANTHROPIC_BASE_URL=https://proxy.example"}
	})

	res, err := a.SendMessage(context.Background(), "hi", store.DocumentContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example", res.Text)
}

func TestOpenAIDialectEmitsCompleteTextOnce(t *testing.T) {
	script := writeScript(t, `cat <<'EOF'
{"choices": [{"message": {"content": "Tightened it.", "tool_calls": [{"function": {"name": "suggestEdit", "arguments": "{\"search\": \"a\", \"replace\": \"b\"}"}}]}}]}
EOF`)
	a := newAdapter(script, func(c *Config) {
		c.ID = "openai"
		c.Dialect = DialectOpenAI
		c.Model = "gpt-4o"
	})

	var fragments []string
	res, err := a.SendMessage(context.Background(), "edit", store.DocumentContext{}, func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Tightened it."}, fragments)
	assert.Equal(t, "Tightened it.", res.Text)
	require.Len(t, res.FunctionCalls, 1)
	assert.Equal(t, provider.FunctionSuggestEdit, res.FunctionCalls[0].Name)
	assert.Equal(t, "b", res.FunctionCalls[0].Arguments["replace"])
}

func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		command string
		want    bool
	}{
		{name: "clean exit", body: `echo "1.0.0"`, want: true},
		{name: "failing probe", body: `exit 1`, want: false},
		{name: "missing executable", command: "/nonexistent/definitely-not-a-cli", want: false},
		{name: "slow probe", body: `exec sleep 5`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command := tt.command
			if command == "" {
				command = writeScript(t, tt.body)
			}
			a := newAdapter(command, func(c *Config) { c.ProbeTimeout = 300 * time.Millisecond })
			assert.Equal(t, tt.want, a.IsAvailable(context.Background()))
		})
	}
}

func TestReadStreamKeepsCodePointsWhole(t *testing.T) {
	const text = "héllo 世界 👋"

	var fragments []string
	out, err := readStream(iotest.OneByteReader(strings.NewReader(text)), func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)

	assert.Equal(t, text, out)
	assert.Equal(t, text, strings.Join(fragments, ""))
	for _, f := range fragments {
		assert.True(t, utf8.ValidString(f), "fragment %q splits a code point", f)
	}
}

func TestReadStreamPropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := readStream(iotest.ErrReader(boom), nil)
	assert.ErrorIs(t, err, boom)
}
