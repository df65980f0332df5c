package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"ai-daemon/pkg/store"
)

// Base holds the descriptive fields shared by all adapters. Adapters embed it and add
// their own invocation mechanics.
type Base struct {
	id           string
	name         string
	model        string
	capabilities []string
	enabled      bool
}

func NewBase(id, name, model string, capabilities []string, enabled bool) Base {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	return Base{
		id:           id,
		name:         name,
		model:        model,
		capabilities: caps,
		enabled:      enabled,
	}
}

func (b Base) ID() string    { return b.id }
func (b Base) Name() string  { return b.name }
func (b Base) Model() string { return b.model }
func (b Base) Enabled() bool { return b.enabled }

func (b Base) Capabilities() []string {
	caps := make([]string, len(b.capabilities))
	copy(caps, b.capabilities)
	return caps
}

func (b Base) Info() Info {
	return Info{
		ID:           b.id,
		Name:         b.name,
		Model:        b.model,
		Capabilities: b.Capabilities(),
		Enabled:      b.enabled,
	}
}

// BuildSystemPrompt renders the default preamble shared by all backends.
func (b Base) BuildSystemPrompt(dc store.DocumentContext) string {
	return SystemPrompt(dc)
}

// workspaceListLimit caps how many vault documents are listed in the preamble.
const workspaceListLimit = 20

// SystemPrompt builds the instruction preamble. The output depends only on dc.
func SystemPrompt(dc store.DocumentContext) string {
	name, path := "Untitled", "(unsaved)"
	if dc.CurrentFile != nil {
		if dc.CurrentFile.Name != "" {
			name = dc.CurrentFile.Name
		}
		if dc.CurrentFile.Path != "" {
			path = dc.CurrentFile.Path
		}
	}
	content := dc.CurrentContent
	if content == "" {
		content = "(empty document)"
	}

	var sb strings.Builder
	sb.WriteString("You are an AI writing assistant integrated into a markdown editor.\n")
	if dc.Today != "" {
		fmt.Fprintf(&sb, "Today's date: %s\n", dc.Today)
	}

	fmt.Fprintf(&sb, "\n## Current Document\nName: %q\nPath: %s\n\n### Content\n```markdown\n%s\n```\n", name, path, content)

	sb.WriteString(`
## Available Actions
You can respond conversationally OR use function calls to edit the document:

1. **suggestEdit** - For targeted changes to specific sections. Provide exact text to find and replacement.
2. **updateNotepad** - For major rewrites when the document needs significant restructuring.
3. **searchVault** - To find related content across all user documents.
4. **readDocument** - To read a specific document for context.
5. **webSearch** - To research current information from the web.

## Guidelines
- Prefer suggestEdit for small, focused changes (most common)
- Use updateNotepad only when significant restructuring is needed
- Always explain your edits conversationally
- Ask clarifying questions when the request is ambiguous
- Maintain the user's voice and style when editing
- When researching, cite your sources
- To hand the conversation to another assistant, mention it (for example @claude); mention @human to ask the user

## IMPORTANT: How to Make Edits
When you want to edit the document, you MUST output your function call in this exact format:

<tool_use>{"name": "suggestEdit", "parameters": {"search": "exact text to find", "replace": "new text", "explanation": "why this change"}}</tool_use>

Or for full document replacement:
<tool_use>{"name": "updateNotepad", "parameters": {"content": "full new document content"}}</tool_use>

Vault lookups use the same format:
<tool_use>{"name": "searchVault", "parameters": {"query": "search terms"}}</tool_use>
<tool_use>{"name": "readDocument", "parameters": {"path": "folder/document.md"}}</tool_use>

Always include explanation text BEFORE or AFTER your tool_use blocks. The user sees your conversational response AND the edit will be applied.`)

	if len(dc.FunctionResults) > 0 {
		sb.WriteString("\n\n## Results Of Your Previous Requests")
		for _, fr := range dc.FunctionResults {
			fmt.Fprintf(&sb, "\n### %s %s\n%s", fr.Name, compactJSON(fr.Arguments), compactJSON(fr.Result))
		}
	}

	if n := len(dc.Workspace); n > 0 {
		fmt.Fprintf(&sb, "\n\n## Workspace Overview\nThe user has %d documents in their workspace:", n)
		for i, doc := range dc.Workspace {
			if i == workspaceListLimit {
				fmt.Fprintf(&sb, "\n- ... and %d more", n-workspaceListLimit)
				break
			}
			if doc.Path != "" {
				fmt.Fprintf(&sb, "\n- %s", doc.Path)
			} else {
				fmt.Fprintf(&sb, "\n- %s", doc.Name)
			}
		}
	}

	return sb.String()
}

func compactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// FormatHistory renders history plus the new turn as a single transcript, for backends
// that only accept one prompt string.
func FormatHistory(history []store.ConversationEntry, turn, userLabel string) string {
	if len(history) == 0 {
		return turn
	}

	parts := make([]string, 0, len(history)+1)
	for _, entry := range history {
		label := "Assistant"
		switch entry.Role {
		case store.RoleUser:
			label = userLabel
		case store.RoleSystem:
			label = "System"
		default:
			if entry.ProviderID != "" {
				label = "Assistant (" + entry.ProviderID + ")"
			}
		}
		parts = append(parts, label+": "+entry.Content)
	}
	parts = append(parts, userLabel+": "+turn)
	return strings.Join(parts, "\n\n")
}
