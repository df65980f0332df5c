package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// HumanMention is the participant name that hands control back to the user.
const HumanMention = "human"

// DefaultMentions maps participant names, as written after '@', to provider ids.
var DefaultMentions = map[string]string{
	"claude":   "claude",
	"gemini":   "gemini",
	"gpt":      "openai",
	"openai":   "openai",
	"codex":    "openai",
	"glm":      "glm",
	"zai":      "zai",
	"xai":      "xai",
	"grok":     "cursor",
	"cursor":   "cursor",
	"composer": "composer",
	"ted":      "ted",
}

// MergeMentions returns base with overrides applied. An empty target removes an alias.
func MergeMentions(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		k = strings.ToLower(k)
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Mentions returns every @name token in text, lowercased, in order of appearance.
// A token starts at an '@' that does not follow a letter, digit or underscore, so
// e-mail addresses are not mentions, and runs over letters, digits and underscores.
func Mentions(text string) []string {
	var out []string
	prev := rune(-1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '@' && !isNameRune(prev) {
			j := i + size
			for j < len(text) {
				nr, nsize := utf8.DecodeRuneInString(text[j:])
				if !isNameRune(nr) {
					break
				}
				j += nsize
			}
			if j > i+size {
				out = append(out, strings.ToLower(text[i+size:j]))
				prev, i = 'x', j
				continue
			}
		}
		prev = r
		i += size
	}
	return out
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Handoff is what a reply asks for next.
type Handoff struct {
	// Human is set when the reply mentions the user.
	Human bool
	// Target is the provider id of the first recognised provider mention.
	Target string
}

// DetectHandoff scans text against the mention table.
func DetectHandoff(text string, table map[string]string) Handoff {
	var h Handoff
	for _, name := range Mentions(text) {
		if name == HumanMention {
			h.Human = true
			continue
		}
		if h.Target != "" {
			continue
		}
		if id, ok := table[name]; ok {
			h.Target = id
		}
	}
	return h
}
