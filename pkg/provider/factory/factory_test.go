package factory

import (
	"context"
	"testing"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/cli"
	"ai-daemon/pkg/provider/httpstream"
	"ai-daemon/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	defaults := Defaults()
	specs := make([]Spec, 0, len(DefaultOrder))
	for _, id := range DefaultOrder {
		s, ok := defaults[id]
		require.True(t, ok, "missing default %s", id)
		specs = append(specs, s)
	}

	providers, err := Build(specs, nil, nil)
	require.NoError(t, err)
	require.Len(t, providers, len(DefaultOrder))

	for i, p := range providers {
		assert.Equal(t, DefaultOrder[i], p.ID())
	}
	assert.IsType(t, &cli.Adapter{}, providers[0])
	assert.IsType(t, &httpstream.Adapter{}, providers[6])
	assert.IsType(t, &provider.Persona{}, providers[8])

	assert.True(t, providers[0].Enabled())
	assert.False(t, providers[5].Enabled(), "glm is opt-in")
}

func TestBuildPersonaWrapsBase(t *testing.T) {
	specs := []Spec{
		{ID: "gemini", Kind: KindCLI, Name: "Gemini", Command: "gemini", Dialect: "gemini", Model: "g-1", Capabilities: []string{"editing"}},
		{ID: "ted", Kind: KindPersona, Name: "Ted", Base: "gemini", Capabilities: []string{"coordination"}},
	}

	providers, err := Build(specs, nil, nil)
	require.NoError(t, err)

	ted := providers[1]
	assert.Equal(t, "g-1", ted.Info().Model)
	assert.Equal(t, []string{"coordination"}, ted.Capabilities())

	prompt := ted.BuildSystemPrompt(store.DocumentContext{})
	assert.Contains(t, prompt, `You are "Ted"`)
	assert.Contains(t, prompt, "## Current Document")
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
	}{
		{
			name:  "persona before base",
			specs: []Spec{{ID: "ted", Kind: KindPersona, Name: "Ted", Base: "gemini"}},
		},
		{
			name:  "unknown kind",
			specs: []Spec{{ID: "x", Kind: "grpc", Name: "X"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestDisabledHTTPProviderWithoutKeyIsUnavailable(t *testing.T) {
	providers, err := Build([]Spec{Defaults()["xai"]}, nil, nil)
	require.NoError(t, err)
	assert.False(t, providers[0].IsAvailable(context.Background()))
}
