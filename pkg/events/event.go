// Package events defines the audit events the daemon emits about conversations.
package events

import "time"

// Event types
const (
	TypeTurnCompleted    = "TURN_COMPLETED"
	TypeHopCompleted     = "HOP_COMPLETED"
	TypeFunctionExecuted = "FUNCTION_EXECUTED"
	TypeSessionOpened    = "SESSION_OPENED"
	TypeSessionClosed    = "SESSION_CLOSED"
)

// Event defines the contract for all audit events.
type Event interface {
	// EventType returns the unique code for this event (e.g. "TURN_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurredAt"`
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// TurnCompleted records how a top-level turn ended.
func TurnCompleted(sessionID string, chain []string, outcome string) BaseEvent {
	return New(TypeTurnCompleted, map[string]interface{}{
		"sessionId": sessionID,
		"chain":     chain,
		"hops":      len(chain),
		"outcome":   outcome,
	})
}

// HopCompleted records one provider invocation inside a turn.
func HopCompleted(sessionID, providerID string, hop int, elapsed time.Duration, replyChars int) BaseEvent {
	return New(TypeHopCompleted, map[string]interface{}{
		"sessionId":  sessionID,
		"providerId": providerID,
		"hop":        hop,
		"elapsedMs":  elapsed.Milliseconds(),
		"replyChars": replyChars,
	})
}

// FunctionExecuted records a side effect requested by a provider.
func FunctionExecuted(sessionID, providerID, function, status string) BaseEvent {
	return New(TypeFunctionExecuted, map[string]interface{}{
		"sessionId":  sessionID,
		"providerId": providerID,
		"function":   function,
		"status":     status,
	})
}

func SessionOpened(sessionID string) BaseEvent {
	return New(TypeSessionOpened, map[string]interface{}{"sessionId": sessionID})
}

func SessionClosed(sessionID string) BaseEvent {
	return New(TypeSessionClosed, map[string]interface{}{"sessionId": sessionID})
}
