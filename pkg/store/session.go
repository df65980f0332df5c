package store

import "time"

// Document is a vault document as mirrored from the client.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Text      string    `json:"text"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentRef identifies a document without carrying its text.
type DocumentRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationEntry is one turn of the session history. Entries are appended, never edited.
type ConversationEntry struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ProviderID string    `json:"providerId,omitempty"`
}

// FunctionResult is the outcome of a side effect requested by a provider, delivered
// back to that provider on its next invocation.
type FunctionResult struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    interface{}            `json:"result"`
}

// DocumentContext is everything a provider sees about the user's editing state.
type DocumentContext struct {
	CurrentFile    *DocumentRef        `json:"currentFile,omitempty"`
	CurrentContent string              `json:"currentContent"`
	History        []ConversationEntry `json:"history"`

	// Workspace is an optional listing of vault documents for the system prompt.
	Workspace []DocumentRef `json:"-"`
	// FunctionResults are pending side-effect results for the provider being invoked.
	FunctionResults []FunctionResult `json:"-"`
	// Today is the date stamped into the system prompt (YYYY-MM-DD).
	Today string `json:"-"`
}
