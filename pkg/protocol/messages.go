package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-daemon/pkg/store"

	"github.com/go-playground/validator/v10"
)

// Client to server message types
const (
	MessageChat           = "chat"
	MessageSetMode        = "setMode"
	MessageSetProvider    = "setProvider"
	MessageUpdateContext  = "updateContext"
	MessageVaultUpdate    = "vaultUpdate"
	MessageGetSuggestions = "getSuggestions"
	MessageClearHistory   = "clearHistory"
	MessageResolveEdit    = "resolveEdit"
)

var ErrInvalidMessage = errors.New("invalid message")

// ContextPatch overlays the session's document context. Nil fields are left unchanged.
type ContextPatch struct {
	CurrentFile    *store.DocumentRef        `json:"currentFile"`
	CurrentContent *string                   `json:"currentContent"`
	History        []store.ConversationEntry `json:"history"`
}

// ClientMessage is the union of everything a client may send. Which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type string `json:"type" validate:"required,oneof=chat setMode setProvider updateContext vaultUpdate getSuggestions clearHistory resolveEdit"`

	// chat
	Text           string `json:"text"`
	TargetProvider string `json:"targetProvider" validate:"max=64"`
	TrustMode      bool   `json:"trustMode"`

	// setMode
	Mode string `json:"mode" validate:"omitempty,oneof=auto manual"`

	// setProvider
	ProviderID string `json:"providerId" validate:"required_if=Type setProvider,max=64"`

	// updateContext
	Context *ContextPatch `json:"context" validate:"required_if=Type updateContext"`

	// vaultUpdate
	Documents []store.Document `json:"documents"`

	// resolveEdit. Content is the document as it stands after an accepted edit.
	Accepted *bool  `json:"accepted" validate:"required_if=Type resolveEdit"`
	Content  string `json:"content"`
}

var validate = validator.New()

// Decode parses and validates one inbound frame.
func Decode(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %s", ErrInvalidMessage, describe(err))
	}
	return msg, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Type" && fe.Tag() == "oneof" {
			parts = append(parts, fmt.Sprintf("unknown message type %q", fe.Value()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
