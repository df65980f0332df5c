// Package httpstream adapts OpenAI-compatible chat completion endpoints that stream
// server-sent events.
package httpstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/toolcall"
	"ai-daemon/pkg/store"
)

const (
	DefaultTimeout      = 2 * time.Minute
	DefaultProbeTimeout = 5 * time.Second
	DefaultTemperature  = 0.7

	doneSentinel = "[DONE]"
)

type Config struct {
	ID           string
	Name         string
	Model        string
	Capabilities []string
	Enabled      bool
	// BaseURL is the API root, e.g. https://api.x.ai/v1. Requests go to BaseURL/chat/completions.
	BaseURL      string
	APIKey       string
	Temperature  float64
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

type Adapter struct {
	provider.Base
	cfg    Config
	client *http.Client
	logger logger.ILogger
}

func New(cfg Config, client *http.Client, log logger.ILogger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Adapter{
		Base:   provider.NewBase(cfg.ID, cfg.Name, cfg.Model, cfg.Capabilities, cfg.Enabled),
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

func (a *Adapter) module() string {
	return "Provider:" + a.ID()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// IsAvailable requires a configured key and a 2xx answer from the models listing.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	if a.cfg.APIKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug(a.module(), "Availability probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (a *Adapter) ParseOutput(raw string) provider.Result {
	return toolcall.Parse(raw).Result()
}

func (a *Adapter) SendMessage(ctx context.Context, turn string, dc store.DocumentContext, onFragment provider.FragmentFunc) (provider.Result, error) {
	return a.SendWithSystemPrompt(ctx, a.BuildSystemPrompt(dc), turn, dc, onFragment)
}

func (a *Adapter) SendWithSystemPrompt(ctx context.Context, systemPrompt, turn string, dc store.DocumentContext, onFragment provider.FragmentFunc) (provider.Result, error) {
	if a.cfg.APIKey == "" {
		return provider.Result{}, provider.Unavailable(a.Name(), errors.New("API key not configured"))
	}

	messages := make([]chatMessage, 0, len(dc.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, entry := range dc.History {
		role := entry.Role
		if role != store.RoleUser && role != store.RoleSystem {
			role = store.RoleAssistant
		}
		messages = append(messages, chatMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, chatMessage{Role: store.RoleUser, Content: turn})

	body, err := json.Marshal(chatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return provider.Result{}, fmt.Errorf("%s: encode request: %w", a.Name(), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.Result{}, provider.Unavailable(a.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	a.logger.Info(a.module(), "Sending request", map[string]interface{}{
		"model":    a.cfg.Model,
		"messages": len(messages),
	})

	resp, err := a.client.Do(req)
	if err != nil {
		return provider.Result{}, a.classify(ctx, runCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return provider.Result{}, &provider.ProcessError{
			Provider:   a.Name(),
			StatusCode: resp.StatusCode,
			Diagnostic: string(diag),
		}
	}

	text, err := readEvents(resp.Body, onFragment)
	if err != nil {
		return provider.Result{}, a.classify(ctx, runCtx, err)
	}

	parsed := toolcall.Parse(text)
	for _, m := range parsed.Malformed {
		a.logger.Warn(a.module(), "Skipped malformed function call", map[string]interface{}{"error": m.Error()})
	}
	return parsed.Result(), nil
}

func (a *Adapter) classify(parent, run context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", a.Name(), parent.Err())
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return provider.Timeout(a.Name(), a.cfg.Timeout)
	}
	return provider.Unavailable(a.Name(), err)
}

// readEvents consumes "data: {...}" lines until the [DONE] sentinel or EOF, relaying
// each content delta. Lines that are not data lines or do not decode are skipped.
func readEvents(r io.Reader, onFragment provider.FragmentFunc) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			return full.String(), nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		for _, choice := range ev.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onFragment != nil {
				onFragment(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}
