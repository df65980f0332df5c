package provider

import (
	"context"

	"ai-daemon/pkg/store"
)

// FunctionName is one of the side effects a provider may request.
type FunctionName string

const (
	FunctionUpdateNotepad FunctionName = "updateNotepad" // replace the whole document
	FunctionSuggestEdit   FunctionName = "suggestEdit"   // targeted search-and-replace
	FunctionSearchVault   FunctionName = "searchVault"   // vault substring/word search
	FunctionReadDocument  FunctionName = "readDocument"  // vault lookup by path or name
	FunctionWebSearch     FunctionName = "webSearch"     // fulfilled natively by the backend
)

// KnownFunctions lists every side effect in the order they are described to providers.
var KnownFunctions = []FunctionName{
	FunctionSuggestEdit,
	FunctionUpdateNotepad,
	FunctionSearchVault,
	FunctionReadDocument,
	FunctionWebSearch,
}

// IsKnown reports whether n belongs to the fixed function set.
func (n FunctionName) IsKnown() bool {
	for _, k := range KnownFunctions {
		if k == n {
			return true
		}
	}
	return false
}

// FunctionCall is a side-effect request extracted from provider output.
type FunctionCall struct {
	Name      FunctionName           `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Result is the normalized output of one provider invocation.
type Result struct {
	Text          string         `json:"text"`
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FragmentFunc receives incremental output while a provider is still running.
type FragmentFunc func(fragment string)

// Info describes a provider for status reporting.
type Info struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities"`
	Enabled      bool     `json:"enabled"`
}

// Status is Info plus the outcome of an availability probe.
type Status struct {
	Info
	Available bool `json:"available"`
}

// Provider is the uniform contract every backend adapter satisfies.
type Provider interface {
	ID() string
	Name() string
	Capabilities() []string
	Enabled() bool
	Info() Info

	// IsAvailable is a best-effort liveness probe. It never fails; any error means false.
	IsAvailable(ctx context.Context) bool

	// BuildSystemPrompt renders the instruction preamble for the given document context.
	BuildSystemPrompt(dc store.DocumentContext) string

	// SendMessage invokes the backend with the system preamble, history and turn.
	// onFragment may be called zero or more times before SendMessage returns.
	SendMessage(ctx context.Context, turn string, dc store.DocumentContext, onFragment FragmentFunc) (Result, error)

	// ParseOutput splits raw backend output into visible text and function calls.
	ParseOutput(raw string) Result
}
