package toolcall

import (
	"errors"
	"testing"

	"ai-daemon/pkg/provider"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantText      string
		wantCalls     []provider.FunctionCall
		wantMalformed int
	}{
		{
			name:     "plain text",
			raw:      "  Just a conversational reply.  ",
			wantText: "Just a conversational reply.",
		},
		{
			name:     "single tagged block",
			raw:      `I'll tighten that sentence. <tool_use>{"name": "suggestEdit", "parameters": {"search": "very big", "replace": "huge", "explanation": "concise"}}</tool_use> Done.`,
			wantText: "I'll tighten that sentence.  Done.",
			wantCalls: []provider.FunctionCall{{
				Name: provider.FunctionSuggestEdit,
				Arguments: map[string]interface{}{
					"search":      "very big",
					"replace":     "huge",
					"explanation": "concise",
				},
			}},
		},
		{
			name:     "tag with attributes and upper case",
			raw:      `<TOOL_USE id="1">{"name": "searchVault", "arguments": {"query": "cats"}}</TOOL_USE>Searching.`,
			wantText: "Searching.",
			wantCalls: []provider.FunctionCall{{
				Name:      provider.FunctionSearchVault,
				Arguments: map[string]interface{}{"query": "cats"},
			}},
		},
		{
			name:     "string encoded arguments",
			raw:      `<tool_use>{"name": "readDocument", "arguments": "{\"path\": \"notes/a.md\"}"}</tool_use>`,
			wantText: "",
			wantCalls: []provider.FunctionCall{{
				Name:      provider.FunctionReadDocument,
				Arguments: map[string]interface{}{"path": "notes/a.md"},
			}},
		},
		{
			name:     "malformed block is kept as text next to a valid one",
			raw:      `A <tool_use>{not json}</tool_use> B <tool_use>{"name": "webSearch", "parameters": {"query": "go"}}</tool_use> C`,
			wantText: "A <tool_use>{not json}</tool_use> B  C",
			wantCalls: []provider.FunctionCall{{
				Name:      provider.FunctionWebSearch,
				Arguments: map[string]interface{}{"query": "go"},
			}},
			wantMalformed: 1,
		},
		{
			name:          "only malformed blocks returns raw text",
			raw:           `Hello <tool_use>{"parameters": {}}</tool_use>`,
			wantText:      `Hello <tool_use>{"parameters": {}}</tool_use>`,
			wantMalformed: 1,
		},
		{
			name:     "unclosed tag is plain text",
			raw:      `Look: <tool_use>{"name": "searchVault"`,
			wantText: `Look: <tool_use>{"name": "searchVault"`,
		},
		{
			name:     "similar tag name is not a block",
			raw:      `<tool_user>{"name": "searchVault"}</tool_user>`,
			wantText: `<tool_user>{"name": "searchVault"}</tool_user>`,
		},
		{
			name:     "fenced json fallback",
			raw:      "Rewriting.\n```json\n{\"name\": \"updateNotepad\", \"parameters\": {\"content\": \"# New\"}}\n```\nThere.",
			wantText: "Rewriting.\n\nThere.",
			wantCalls: []provider.FunctionCall{{
				Name:      provider.FunctionUpdateNotepad,
				Arguments: map[string]interface{}{"content": "# New"},
			}},
		},
		{
			name:     "fenced code that is not a call stays",
			raw:      "Example:\n```go\nfmt.Println(\"hi\")\n```",
			wantText: "Example:\n```go\nfmt.Println(\"hi\")\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)

			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if diff := cmp.Diff(tt.wantCalls, got.Calls); diff != "" {
				t.Errorf("Calls mismatch (-want +got):\n%s", diff)
			}
			if len(got.Malformed) != tt.wantMalformed {
				t.Errorf("Malformed = %d, want %d", len(got.Malformed), tt.wantMalformed)
			}
			for _, err := range got.Malformed {
				if !errors.Is(err, ErrMalformedFunctionCall) {
					t.Errorf("malformed error %v does not wrap ErrMalformedFunctionCall", err)
				}
			}
		})
	}
}

func TestParsedResultNeverNilCalls(t *testing.T) {
	res := Parse("hello").Result()
	if res.FunctionCalls == nil {
		t.Fatal("FunctionCalls should be an empty slice, not nil")
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q", res.Text)
	}
}
