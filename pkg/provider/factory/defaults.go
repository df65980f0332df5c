package factory

func enabled(v bool) *bool { return &v }

// DefaultOrder is the registration order of the built-in agents. It is also the
// tie-break order when two providers score the same.
var DefaultOrder = []string{"claude", "gemini", "openai", "cursor", "composer", "glm", "xai", "zai", "ted"}

// Defaults returns a fresh copy of the built-in agent specs keyed by id.
func Defaults() map[string]Spec {
	return map[string]Spec{
		"claude": {
			ID:           "claude",
			Kind:         KindCLI,
			Name:         "Claude Opus 4.5",
			Command:      "claude",
			Dialect:      "claude",
			Capabilities: []string{"editing", "code", "nuance", "review", "research"},
		},
		"gemini": {
			ID:           "gemini",
			Kind:         KindCLI,
			Name:         "Gemini",
			Command:      "gemini",
			Dialect:      "gemini",
			Model:        "gemini-3-pro-preview",
			Capabilities: []string{"editing", "code", "speed", "multimodal"},
		},
		"openai": {
			ID:           "openai",
			Kind:         KindCLI,
			Name:         "GPT-4o",
			Command:      "openai",
			Dialect:      "openai",
			Model:        "gpt-4o",
			Capabilities: []string{"editing", "code", "reasoning", "analysis"},
		},
		"cursor": {
			ID:             "cursor",
			Kind:           KindCLI,
			Name:           "Cursor (Grok)",
			Command:        "cursor-agent",
			Dialect:        "cursor",
			Model:          "grok",
			Capabilities:   []string{"editing", "code", "reasoning"},
			TimeoutSeconds: 120,
			ProbeArgs:      []string{"--help"},
		},
		"composer": {
			ID:             "composer",
			Kind:           KindCLI,
			Name:           "Composer",
			Command:        "cursor-agent",
			Dialect:        "cursor",
			Model:          "composer-1",
			Capabilities:   []string{"editing", "code", "reasoning", "composition"},
			TimeoutSeconds: 120,
		},
		"glm": {
			ID:           "glm",
			Kind:         KindCLI,
			Name:         "GLM-4.6 (Z.AI)",
			Command:      "claude",
			Dialect:      "claude",
			Model:        "opus",
			Capabilities: []string{"editing", "code", "reasoning", "analysis"},
			Enabled:      enabled(false),
			Env:          map[string]string{"ANTHROPIC_BASE_URL": "https://api.z.ai/api/anthropic"},
		},
		"xai": {
			ID:           "xai",
			Kind:         KindHTTP,
			Name:         "X.AI",
			Model:        "grok-beta",
			BaseURL:      "https://api.x.ai/v1",
			Capabilities: []string{"editing", "code", "reasoning"},
			Enabled:      enabled(false),
		},
		"zai": {
			ID:           "zai",
			Kind:         KindHTTP,
			Name:         "Z.AI",
			Model:        "glm-4.6",
			BaseURL:      "https://api.z.ai/api/paas/v4",
			Capabilities: []string{"editing", "code", "reasoning"},
			Enabled:      enabled(false),
		},
		"ted": {
			ID:           "ted",
			Kind:         KindPersona,
			Name:         "Ted (Project Manager)",
			Base:         "gemini",
			Capabilities: []string{"project-management", "coordination", "editing", "code", "vision"},
			Enabled:      enabled(false),
		},
	}
}
