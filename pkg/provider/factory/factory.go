package factory

import (
	"fmt"
	"net/http"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/cli"
	"ai-daemon/pkg/provider/httpstream"
)

// Agent kinds
const (
	KindCLI     = "cli"
	KindHTTP    = "http"
	KindPersona = "persona"
)

// Spec declares one provider. It is the unit of the agents file.
type Spec struct {
	ID             string            `yaml:"-" validate:"required"`
	Kind           string            `yaml:"kind" validate:"required,oneof=cli http persona"`
	Name           string            `yaml:"name" validate:"required"`
	Command        string            `yaml:"cli" validate:"required_if=Kind cli"`
	Dialect        string            `yaml:"dialect" validate:"omitempty,oneof=claude gemini cursor openai"`
	Model          string            `yaml:"model"`
	Capabilities   []string          `yaml:"capabilities" validate:"required,min=1,dive,required"`
	Enabled        *bool             `yaml:"enabled"`
	APIKey         string            `yaml:"apiKey"`
	BaseURL        string            `yaml:"baseUrl" validate:"required_if=Kind http,omitempty,url"`
	Env            map[string]string `yaml:"env"`
	TimeoutSeconds int               `yaml:"timeoutSeconds" validate:"gte=0"`
	ProbeArgs      []string          `yaml:"probeArgs"`
	// Base and Instructions apply to personas only.
	Base         string `yaml:"base" validate:"required_if=Kind persona"`
	Instructions string `yaml:"instructions"`
}

func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s Spec) timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Build constructs providers in the order given. A persona must come after its base.
func Build(specs []Spec, client *http.Client, log logger.ILogger) ([]provider.Provider, error) {
	built := make(map[string]provider.Provider, len(specs))
	out := make([]provider.Provider, 0, len(specs))

	for _, s := range specs {
		p, err := build(s, built, client, log)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", s.ID, err)
		}
		built[s.ID] = p
		out = append(out, p)
	}
	return out, nil
}

func build(s Spec, built map[string]provider.Provider, client *http.Client, log logger.ILogger) (provider.Provider, error) {
	switch s.Kind {
	case KindCLI:
		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		return cli.New(cli.Config{
			ID:           s.ID,
			Name:         s.Name,
			Command:      s.Command,
			Model:        s.Model,
			Capabilities: s.Capabilities,
			Enabled:      s.IsEnabled(),
			Dialect:      cli.Dialect(s.Dialect),
			APIKey:       s.APIKey,
			Env:          env,
			Timeout:      s.timeout(),
			ProbeArgs:    s.ProbeArgs,
		}, log), nil

	case KindHTTP:
		return httpstream.New(httpstream.Config{
			ID:           s.ID,
			Name:         s.Name,
			Model:        s.Model,
			Capabilities: s.Capabilities,
			Enabled:      s.IsEnabled(),
			BaseURL:      s.BaseURL,
			APIKey:       s.APIKey,
			Timeout:      s.timeout(),
		}, client, log), nil

	case KindPersona:
		inner, ok := built[s.Base]
		if !ok {
			return nil, fmt.Errorf("persona base %q is not defined before it", s.Base)
		}
		instructions := s.Instructions
		if instructions == "" {
			instructions = provider.TedInstructions
		}
		base := provider.NewBase(s.ID, s.Name, inner.Info().Model, s.Capabilities, s.IsEnabled())
		return provider.NewPersona(base, inner, instructions), nil

	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", s.Kind)
	}
}
