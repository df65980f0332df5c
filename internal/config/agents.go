package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"ai-daemon/pkg/provider/factory"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type agentsFile struct {
	// Nodes are decoded over the built-in spec of the same id, so a file only needs to
	// name the fields it changes.
	Agents   map[string]yaml.Node `yaml:"agents"`
	Keywords map[string][]string  `yaml:"keywords"`
	Mentions map[string]string    `yaml:"mentions"`
}

// Agents is the resolved provider configuration.
type Agents struct {
	// Specs are in build order: built-ins first, then new agents by id, personas last.
	Specs []factory.Spec
	// Keywords overlay the matcher's keyword table.
	Keywords map[string][]string
	// Mentions overlay the @alias table.
	Mentions map[string]string
	// Source is the file that was read, empty when only defaults apply.
	Source string
}

// LoadAgents merges the agents file at path over the built-in agents, then applies the
// environment overrides. A missing file is not an error.
func LoadAgents(path string, cli CLIOverrides, keys APIKeys) (*Agents, error) {
	specs := factory.Defaults()
	order := append([]string(nil), factory.DefaultOrder...)
	out := &Agents{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read agents file: %w", err)
		default:
			var file agentsFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parse agents file %s: %w", path, err)
			}
			if order, err = mergeAgents(specs, order, file.Agents); err != nil {
				return nil, fmt.Errorf("parse agents file %s: %w", path, err)
			}
			out.Keywords = file.Keywords
			out.Mentions = file.Mentions
			out.Source = path
		}
	}

	applyOverrides(specs, cli, keys)

	for _, id := range buildOrder(order, specs) {
		spec := specs[id]
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		out.Specs = append(out.Specs, spec)
	}
	return out, nil
}

func mergeAgents(specs map[string]factory.Spec, order []string, nodes map[string]yaml.Node) ([]string, error) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		spec, known := specs[id]
		node := nodes[id]
		if err := node.Decode(&spec); err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		spec.ID = id
		specs[id] = spec
		if !known {
			order = append(order, id)
		}
	}
	return order, nil
}

// buildOrder keeps order but moves personas after every other agent so their base
// already exists when they are built.
func buildOrder(order []string, specs map[string]factory.Spec) []string {
	out := make([]string, 0, len(order))
	var personas []string
	for _, id := range order {
		if specs[id].Kind == factory.KindPersona {
			personas = append(personas, id)
			continue
		}
		out = append(out, id)
	}
	return append(out, personas...)
}

func applyOverrides(specs map[string]factory.Spec, cli CLIOverrides, keys APIKeys) {
	set := func(id string, fn func(*factory.Spec)) {
		if spec, ok := specs[id]; ok {
			fn(&spec)
			specs[id] = spec
		}
	}
	on := true

	set("claude", func(s *factory.Spec) {
		s.Command = firstNonEmpty(cli.ClaudePath, s.Command)
		s.Model = firstNonEmpty(cli.ClaudeModel, s.Model)
	})
	set("openai", func(s *factory.Spec) {
		s.Command = firstNonEmpty(cli.CodexPath, s.Command)
		s.Model = firstNonEmpty(cli.CodexModel, s.Model)
	})
	set("gemini", func(s *factory.Spec) {
		s.Command = firstNonEmpty(cli.GeminiPath, s.Command)
		s.Model = firstNonEmpty(cli.GeminiModel, s.Model)
	})

	// A key in the environment switches the agent on.
	if keys.XAI != "" {
		set("xai", func(s *factory.Spec) { s.APIKey, s.Enabled = keys.XAI, &on })
	}
	if keys.ZAI != "" {
		set("zai", func(s *factory.Spec) { s.APIKey, s.Enabled = keys.ZAI, &on })
	}
	if keys.GLM != "" {
		set("glm", func(s *factory.Spec) {
			env := make(map[string]string, len(s.Env)+1)
			for k, v := range s.Env {
				env[k] = v
			}
			env["ANTHROPIC_AUTH_TOKEN"] = keys.GLM
			s.Env, s.Enabled = env, &on
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
