// Package toolcall extracts side-effect requests embedded in provider output.
//
// Grammar:
//
//	block    = open payload close
//	open     = "<tool_use" [ws attrs] ">"        (tag name case-insensitive)
//	close    = "</tool_use>"
//	payload  = JSON object {"name": string, "parameters"|"arguments": object|string}
//
// When no tagged block parses, fenced blocks (```json ... ```) whose payload has the same
// shape are accepted instead. A block that does not parse is left in the text untouched and
// reported in Parsed.Malformed. An open tag without a close tag ends scanning; everything
// from it onwards is plain text.
package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-daemon/pkg/provider"
)

const (
	openTag  = "<tool_use"
	closeTag = "</tool_use>"
	fence    = "```"
)

// ErrMalformedFunctionCall marks a block that looked like a function call but did not parse.
var ErrMalformedFunctionCall = errors.New("malformed function call")

// Parsed is the result of scanning raw provider output.
type Parsed struct {
	Text      string
	Calls     []provider.FunctionCall
	Malformed []error
}

// Result converts to the provider contract's result type.
func (p Parsed) Result() provider.Result {
	calls := p.Calls
	if calls == nil {
		calls = []provider.FunctionCall{}
	}
	return provider.Result{Text: p.Text, FunctionCalls: calls}
}

type payload struct {
	Name       string          `json:"name"`
	Function   string          `json:"function"`
	Parameters json.RawMessage `json:"parameters"`
	Arguments  json.RawMessage `json:"arguments"`
}

// Parse scans raw for tagged blocks, then for fenced JSON blocks if none were found.
func Parse(raw string) Parsed {
	var out Parsed

	text, calls, malformed := scanTagged(raw)
	out.Malformed = append(out.Malformed, malformed...)
	if len(calls) > 0 {
		out.Text = strings.TrimSpace(text)
		out.Calls = calls
		return out
	}

	text, calls = scanFenced(raw)
	if len(calls) > 0 {
		out.Text = strings.TrimSpace(text)
		out.Calls = calls
		return out
	}

	out.Text = strings.TrimSpace(raw)
	return out
}

func scanTagged(raw string) (string, []provider.FunctionCall, []error) {
	var (
		text      strings.Builder
		calls     []provider.FunctionCall
		malformed []error
		pos       int
	)

	for pos < len(raw) {
		start := indexFold(raw, openTag, pos)
		if start < 0 {
			break
		}
		afterName := start + len(openTag)
		if afterName < len(raw) && raw[afterName] != '>' && !isSpace(raw[afterName]) {
			// "<tool_user" or similar, not our tag
			text.WriteString(raw[pos:afterName])
			pos = afterName
			continue
		}
		gt := strings.IndexByte(raw[afterName:], '>')
		if gt < 0 {
			break
		}
		bodyStart := afterName + gt + 1
		end := indexFold(raw, closeTag, bodyStart)
		if end < 0 {
			break
		}
		blockEnd := end + len(closeTag)

		call, err := decode(raw[bodyStart:end])
		if err != nil {
			malformed = append(malformed, err)
			text.WriteString(raw[pos:blockEnd])
		} else {
			text.WriteString(raw[pos:start])
			calls = append(calls, call)
		}
		pos = blockEnd
	}
	text.WriteString(raw[pos:])

	return text.String(), calls, malformed
}

func scanFenced(raw string) (string, []provider.FunctionCall) {
	var (
		text  strings.Builder
		calls []provider.FunctionCall
		pos   int
	)

	for pos < len(raw) {
		start := strings.Index(raw[pos:], fence)
		if start < 0 {
			break
		}
		start += pos
		nl := strings.IndexByte(raw[start:], '\n')
		if nl < 0 {
			break
		}
		lang := strings.TrimSpace(raw[start+len(fence) : start+nl])
		bodyStart := start + nl + 1
		end := strings.Index(raw[bodyStart:], fence)
		if end < 0 {
			break
		}
		end += bodyStart
		blockEnd := end + len(fence)

		if lang == "" || strings.EqualFold(lang, "json") {
			if call, err := decode(raw[bodyStart:end]); err == nil {
				text.WriteString(raw[pos:start])
				calls = append(calls, call)
				pos = blockEnd
				continue
			}
		}
		text.WriteString(raw[pos:blockEnd])
		pos = blockEnd
	}
	text.WriteString(raw[pos:])

	return text.String(), calls
}

func decode(body string) (provider.FunctionCall, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") {
		return provider.FunctionCall{}, fmt.Errorf("%w: payload is not an object", ErrMalformedFunctionCall)
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return provider.FunctionCall{}, fmt.Errorf("%w: %v", ErrMalformedFunctionCall, err)
	}

	name := p.Name
	if name == "" {
		name = p.Function
	}
	if name == "" {
		return provider.FunctionCall{}, fmt.Errorf("%w: missing name", ErrMalformedFunctionCall)
	}

	rawArgs := p.Parameters
	if len(rawArgs) == 0 || string(rawArgs) == "null" {
		rawArgs = p.Arguments
	}
	args, err := decodeArgs(rawArgs)
	if err != nil {
		return provider.FunctionCall{}, fmt.Errorf("%w: %s arguments: %v", ErrMalformedFunctionCall, name, err)
	}

	return provider.FunctionCall{Name: provider.FunctionName(name), Arguments: args}, nil
}

// decodeArgs accepts an object, or a string holding an encoded object (OpenAI tool calls).
func decodeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if strings.TrimSpace(encoded) == "" {
			return args, nil
		}
		raw = json.RawMessage(encoded)
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// indexFold is strings.Index with ASCII case folding on substr, starting at from.
func indexFold(s, substr string, from int) int {
	n := len(substr)
	for i := from; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
