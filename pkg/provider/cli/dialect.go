package cli

import (
	"fmt"
	"strings"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/store"
)

// Dialect selects the argument convention and output format of a CLI backend.
type Dialect string

const (
	DialectClaude Dialect = "claude" // --print --system-prompt <sys> <prompt>
	DialectGemini Dialect = "gemini" // -o text <sys --- prompt>
	DialectCursor Dialect = "cursor" // --print --output-format text <sys prompt>
	DialectOpenAI Dialect = "openai" // api chat.completions.create, JSON on stdout
)

func (d Dialect) Valid() bool {
	switch d {
	case DialectClaude, DialectGemini, DialectCursor, DialectOpenAI:
		return true
	}
	return false
}

// streams reports whether stdout is user-facing text that can be relayed as it arrives.
func (d Dialect) streams() bool {
	return d != DialectOpenAI
}

// buildArgs renders the argv (without the executable) for one invocation.
func buildArgs(d Dialect, model, apiKey, systemPrompt, turn string, history []store.ConversationEntry) []string {
	switch d {
	case DialectGemini:
		prompt := transcript(history, turn)
		if systemPrompt != "" {
			prompt = systemPrompt + "\n\n---\n\n" + prompt
		}
		args := []string{"-o", "text"}
		if model != "" {
			args = append(args, "-m", model)
		}
		return append(args, prompt)

	case DialectCursor:
		args := []string{"--print", "--output-format", "text"}
		if model != "" {
			args = append(args, "--model", model)
		}
		if apiKey != "" {
			args = append(args, "--api-key", apiKey)
		}
		return append(args, systemPrompt+"\n\n"+transcript(history, turn))

	case DialectOpenAI:
		args := []string{"api", "chat.completions.create", "-m", model}
		if systemPrompt != "" {
			args = append(args, "-g", "system", systemPrompt)
		}
		return append(args, "-g", "user", transcript(history, turn))

	default:
		args := []string{"--print"}
		if model != "" {
			args = append(args, "--model", model)
		}
		if systemPrompt != "" {
			args = append(args, "--system-prompt", systemPrompt)
		}
		return append(args, provider.FormatHistory(history, turn, "Human"))
	}
}

func transcript(history []store.ConversationEntry, turn string) string {
	if len(history) == 0 {
		return turn
	}
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		label := "Assistant"
		if entry.Role == store.RoleUser {
			label = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, entry.Content))
	}
	return "Previous conversation:\n" + strings.Join(lines, "\n\n") + "\n\nCurrent request: " + turn
}
