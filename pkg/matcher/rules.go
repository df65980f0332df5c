package matcher

import (
	"sort"
	"strings"
)

// Rule maps a keyword found in the turn text to the capabilities the task needs.
type Rule struct {
	Keyword      string
	Capabilities []string
}

// FallbackCapabilities is the requirement when no rule matches: general editing.
var FallbackCapabilities = []string{"editing", "nuance"}

// DefaultRules is the built-in keyword table. Matching is substring based on lowercased text.
var DefaultRules = []Rule{
	{"edit", []string{"editing", "nuance"}},
	{"rewrite", []string{"editing", "nuance"}},
	{"improve", []string{"editing", "review"}},
	{"fix", []string{"editing", "code"}},
	{"polish", []string{"editing", "nuance"}},
	{"rephrase", []string{"editing", "nuance"}},
	{"shorten", []string{"editing"}},
	{"expand", []string{"editing"}},
	{"clarify", []string{"editing", "nuance"}},

	{"research", []string{"research", "grounding"}},
	{"search", []string{"research", "grounding"}},
	{"find", []string{"research"}},
	{"look up", []string{"research", "grounding"}},
	{"what is", []string{"research"}},
	{"latest", []string{"research", "grounding"}},
	{"current", []string{"research", "grounding"}},
	{"news", []string{"research", "grounding"}},

	{"code", []string{"code", "implementation"}},
	{"function", []string{"code", "implementation"}},
	{"debug", []string{"code", "review"}},
	{"refactor", []string{"code", "review"}},
	{"implement", []string{"code", "implementation"}},

	{"analyze", []string{"analysis", "review"}},
	{"review", []string{"review"}},
	{"summarize", []string{"analysis"}},
	{"explain", []string{"analysis", "nuance"}},

	{"entire document", []string{"large-context"}},
	{"whole file", []string{"large-context"}},
	{"all my", []string{"large-context"}},
	{"across", []string{"large-context"}},
	{"compare", []string{"large-context", "analysis"}},

	{"thorough", []string{"long-tasks"}},
	{"comprehensive", []string{"long-tasks", "analysis"}},
	{"detailed", []string{"long-tasks", "analysis"}},
}

// MergeRules overlays overrides on base. Override keywords are case-insensitive. An override
// for an existing keyword replaces its capabilities in place; new keywords are appended in
// sorted order. An empty capability list removes the keyword.
func MergeRules(base []Rule, overrides map[string][]string) []Rule {
	lowered := make(map[string][]string, len(overrides))
	for kw, caps := range overrides {
		lowered[strings.ToLower(kw)] = caps
	}

	out := make([]Rule, 0, len(base)+len(lowered))
	seen := make(map[string]bool, len(lowered))

	for _, r := range base {
		caps, ok := lowered[r.Keyword]
		if !ok {
			out = append(out, r)
			continue
		}
		seen[r.Keyword] = true
		if len(caps) > 0 {
			out = append(out, Rule{Keyword: r.Keyword, Capabilities: caps})
		}
	}

	extra := make([]string, 0, len(lowered))
	for kw, caps := range lowered {
		if !seen[kw] && len(caps) > 0 {
			extra = append(extra, kw)
		}
	}
	sort.Strings(extra)
	for _, kw := range extra {
		out = append(out, Rule{Keyword: kw, Capabilities: lowered[kw]})
	}

	return out
}
