// Package protocol defines the JSON messages exchanged with editor clients.
package protocol

import (
	"encoding/json"

	"ai-daemon/pkg/matcher"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/vault"
)

// Server to client event types
const (
	EventConnected        = "connected"
	EventThinking         = "thinking"
	EventProviderSelected = "providerSelected"
	EventChunk            = "chunk"
	EventResponse         = "response"
	EventFunctionCall     = "functionCall"
	EventChaining         = "chaining"
	EventAwaitingHuman    = "awaitingHuman"
	EventDone             = "done"
	EventError            = "error"
	EventModeChanged      = "modeChanged"
	EventProviderChanged  = "providerChanged"
	EventVaultSynced      = "vaultSynced"
	EventSuggestions      = "suggestions"
	EventHistoryCleared   = "historyCleared"
	EventEditResolved     = "editResolved"
)

// Event is a flat JSON object with a "type" key, matching what editor clients expect.
type Event map[string]interface{}

func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Connected(sessionID, mode, providerID string, providers []provider.Status) Event {
	return Event{
		"type":       EventConnected,
		"sessionId":  sessionID,
		"mode":       mode,
		"providerId": providerID,
		"providers":  providers,
	}
}

func Thinking() Event {
	return Event{"type": EventThinking}
}

func ProviderSelected(sel matcher.Selection) Event {
	e := Event{
		"type":       EventProviderSelected,
		"mode":       sel.Mode,
		"providerId": sel.ProviderID,
		"score":      sel.Score,
		"reason":     sel.Reason,
	}
	if len(sel.Alternatives) > 0 {
		e["alternatives"] = sel.Alternatives
	}
	return e
}

func Chunk(text, providerID string) Event {
	return Event{"type": EventChunk, "text": text, "providerId": providerID}
}

func Response(text, providerID string) Event {
	return Event{"type": EventResponse, "text": text, "providerId": providerID}
}

func FunctionCall(call provider.FunctionCall, result interface{}, providerID string) Event {
	return Event{
		"type":       EventFunctionCall,
		"function":   string(call.Name),
		"arguments":  call.Arguments,
		"result":     result,
		"providerId": providerID,
	}
}

func Chaining(toProvider string, hop int) Event {
	return Event{"type": EventChaining, "toProvider": toProvider, "hop": hop}
}

// AwaitingHuman pauses the turn. pendingEdit is nil unless an edit is waiting for approval.
func AwaitingHuman(providerID string, pendingEdit interface{}) Event {
	e := Event{"type": EventAwaitingHuman, "providerId": providerID}
	if pendingEdit != nil {
		e["pendingEdit"] = pendingEdit
	}
	return e
}

func Done() Event {
	return Event{"type": EventDone}
}

func Error(message string) Event {
	return Event{"type": EventError, "message": message}
}

func ModeChanged(mode string) Event {
	return Event{"type": EventModeChanged, "mode": mode}
}

func ProviderChanged(providerID string) Event {
	return Event{"type": EventProviderChanged, "providerId": providerID}
}

func VaultSynced(res vault.SyncResult) Event {
	return Event{
		"type":      EventVaultSynced,
		"count":     res.Count,
		"received":  res.Received,
		"added":     res.Added,
		"updated":   res.Updated,
		"removed":   res.Removed,
		"unchanged": res.Unchanged,
	}
}

func Suggestions(rankings []matcher.Ranking) Event {
	return Event{"type": EventSuggestions, "providers": rankings}
}

func HistoryCleared() Event {
	return Event{"type": EventHistoryCleared}
}

func EditResolved(accepted bool, providerID string) Event {
	return Event{"type": EventEditResolved, "accepted": accepted, "providerId": providerID}
}
