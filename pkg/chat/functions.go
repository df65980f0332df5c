package chat

import (
	"errors"
	"fmt"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/session"
	"ai-daemon/pkg/store"
	"ai-daemon/pkg/vault"
)

// Function result statuses reported back to providers and clients.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusPending   = "pending_client_execution"
	StatusDelegated = "delegated"
)

// Vault is the document lookup surface function calls run against.
type Vault interface {
	Search(query string) []vault.SearchResult
	ReadDocument(path string) (vault.Content, error)
	Documents() []store.DocumentRef
}

// FunctionResult is the outcome of one requested side effect.
type FunctionResult map[string]interface{}

func (r FunctionResult) Status() string {
	s, _ := r["status"].(string)
	return s
}

// execute runs call on behalf of providerID. Vault lookups are queued for that provider's
// next invocation. Edits are acknowledged and left to the client; without trust the edit
// is also held on the session for approval.
func (o *Orchestrator) execute(s *session.Session, providerID string, call provider.FunctionCall) FunctionResult {
	var res FunctionResult
	switch call.Name {
	case provider.FunctionSearchVault, provider.FunctionReadDocument:
		res = o.lookup(call)
		o.queue(s, providerID, call, res)

	case provider.FunctionUpdateNotepad, provider.FunctionSuggestEdit:
		trust := s.Trust()
		res = FunctionResult{
			"status":    StatusPending,
			"message":   "Edit will be applied by the client",
			"autoApply": trust,
		}
		if !trust {
			s.SetPendingEdit(session.PendingEdit{
				ProviderID: providerID,
				Function:   string(call.Name),
				Arguments:  call.Arguments,
				CreatedAt:  o.now(),
			})
		}

	case provider.FunctionWebSearch:
		res = FunctionResult{"status": StatusDelegated, "message": "Web search performed by provider"}

	default:
		res = FunctionResult{"status": StatusError, "message": fmt.Sprintf("Unknown function: %s", call.Name)}
	}
	return res
}

// lookup answers a vault function. A daemon started without a vault reports the lookup
// as failed so the chain carries on.
func (o *Orchestrator) lookup(call provider.FunctionCall) FunctionResult {
	if o.vault == nil {
		return FunctionResult{"status": StatusError, "message": "Vault not available"}
	}
	if call.Name == provider.FunctionSearchVault {
		return FunctionResult{
			"status":  StatusSuccess,
			"results": o.vault.Search(stringArg(call.Arguments, "query")),
		}
	}

	path := stringArg(call.Arguments, "path")
	doc, err := o.vault.ReadDocument(path)
	switch {
	case errors.Is(err, vault.ErrDocumentNotFound):
		return FunctionResult{"status": StatusError, "message": "Document not found: " + path}
	case err != nil:
		return FunctionResult{"status": StatusError, "message": err.Error()}
	default:
		return FunctionResult{"status": StatusSuccess, "document": doc}
	}
}

func (o *Orchestrator) queue(s *session.Session, providerID string, call provider.FunctionCall, res FunctionResult) {
	s.QueueResult(providerID, store.FunctionResult{
		Name:      string(call.Name),
		Arguments: call.Arguments,
		Result:    res,
	})
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
