package cli

import (
	"encoding/json"
	"strings"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/toolcall"
)

type completion struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
			FunctionCall *struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function_call"`
		} `json:"message"`
	} `json:"choices"`
}

// parseCompletion reads a chat.completions JSON document. Output that is not JSON is
// treated as plain text with embedded tool-use blocks.
func parseCompletion(raw string) toolcall.Parsed {
	var c completion
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil || len(c.Choices) == 0 {
		return toolcall.Parse(raw)
	}

	msg := c.Choices[0].Message
	out := toolcall.Parse(msg.Content)
	for _, tc := range msg.ToolCalls {
		out.Calls = appendNative(out, tc.Function.Name, tc.Function.Arguments)
	}
	if msg.FunctionCall != nil {
		out.Calls = appendNative(out, msg.FunctionCall.Name, msg.FunctionCall.Arguments)
	}
	return out
}

func appendNative(p toolcall.Parsed, name, arguments string) []provider.FunctionCall {
	if name == "" {
		return p.Calls
	}
	args := map[string]interface{}{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return p.Calls
		}
	}
	return append(p.Calls, provider.FunctionCall{Name: provider.FunctionName(name), Arguments: args})
}
