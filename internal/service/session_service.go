package service

import (
	"context"
	"fmt"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/chat"
	"ai-daemon/pkg/matcher"
	"ai-daemon/pkg/protocol"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/session"
	"ai-daemon/pkg/store"
	"ai-daemon/pkg/vault"
)

// Chatter runs chat turns. *chat.Orchestrator satisfies it.
type Chatter interface {
	Run(ctx context.Context, s *session.Session, turn chat.Turn) error
}

type ISessionService interface {
	// Greet sends the connected event.
	Greet(ctx context.Context, s *session.Session)
	// Handle processes one client message. It is the session worker's handler.
	Handle(ctx context.Context, s *session.Session, msg protocol.ClientMessage)
}

type sessionService struct {
	chat      Chatter
	providers *provider.Registry
	matcher   *matcher.Matcher
	vault     vault.Syncer
	logger    logger.ILogger
}

func NewSessionService(
	chatter Chatter,
	providers *provider.Registry,
	m *matcher.Matcher,
	syncer vault.Syncer,
	log logger.ILogger,
) ISessionService {
	return &sessionService{
		chat:      chatter,
		providers: providers,
		matcher:   m,
		vault:     syncer,
		logger:    log,
	}
}

func (ss *sessionService) Greet(ctx context.Context, s *session.Session) {
	s.Emit(protocol.Connected(s.ID(), s.Mode(), s.ProviderID(), ss.providers.Statuses(ctx)))
}

func (ss *sessionService) Handle(ctx context.Context, s *session.Session, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.MessageChat:
		// The orchestrator reports its own failures to the client.
		_ = ss.chat.Run(ctx, s, chat.Turn{
			Text:           msg.Text,
			TargetProvider: msg.TargetProvider,
			TrustMode:      msg.TrustMode,
		})

	case protocol.MessageSetMode:
		mode := msg.Mode
		if mode == "" {
			mode = matcher.ModeAuto
		}
		s.SetMode(mode)
		s.Emit(protocol.ModeChanged(mode))

	case protocol.MessageSetProvider:
		if _, ok := ss.providers.Get(msg.ProviderID); !ok {
			s.Emit(protocol.Error(fmt.Sprintf("Unknown provider: %s", msg.ProviderID)))
			return
		}
		s.SetProviderID(msg.ProviderID)
		s.SetMode(matcher.ModeManual)
		s.Emit(protocol.ProviderChanged(msg.ProviderID))

	case protocol.MessageUpdateContext:
		s.PatchContext(*msg.Context)

	case protocol.MessageVaultUpdate:
		res, err := ss.vault.Sync(ctx, msg.Documents)
		if err != nil {
			// The local cache is already updated; only replication failed.
			ss.logger.Warn("SessionService", "Vault sync not replicated", map[string]interface{}{
				"session_id": s.ID(),
				"error":      err.Error(),
			})
		}
		ss.logger.Info("SessionService", "Vault synced", map[string]interface{}{
			"session_id": s.ID(),
			"count":      res.Count,
			"added":      res.Added,
			"updated":    res.Updated,
			"removed":    res.Removed,
		})
		s.Emit(protocol.VaultSynced(res))

	case protocol.MessageGetSuggestions:
		s.Emit(protocol.Suggestions(ss.matcher.Suggestions(ctx, msg.Text)))

	case protocol.MessageClearHistory:
		s.ClearHistory()
		s.Emit(protocol.HistoryCleared())

	case protocol.MessageResolveEdit:
		ss.resolveEdit(s, *msg.Accepted, msg.Content)

	default:
		s.Emit(protocol.Error(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

// resolveEdit records the client's verdict on the pending edit so later providers know who
// authored the document's current state. The document the client sends with an accepted
// edit becomes the session's current content.
func (ss *sessionService) resolveEdit(s *session.Session, accepted bool, applied string) {
	edit, err := s.ResolvePendingEdit()
	if err != nil {
		s.Emit(protocol.Error("No edit is awaiting approval"))
		return
	}

	verdict := "rejected"
	if accepted {
		verdict = "accepted"
		if applied != "" {
			s.PatchContext(protocol.ContextPatch{CurrentContent: &applied})
		}
	}
	s.AppendHistory(store.ConversationEntry{
		Role:       store.RoleSystem,
		Content:    fmt.Sprintf("The user %s the %s edit proposed by %s.", verdict, edit.Function, edit.ProviderID),
		ProviderID: edit.ProviderID,
	})

	ss.logger.Info("SessionService", "Pending edit resolved", map[string]interface{}{
		"session_id":  s.ID(),
		"provider_id": edit.ProviderID,
		"function":    edit.Function,
		"accepted":    accepted,
	})
	s.Emit(protocol.EditResolved(accepted, edit.ProviderID))
}
