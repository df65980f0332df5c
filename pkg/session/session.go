// Package session owns per-connection conversational state and its serial message worker.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/protocol"
	"ai-daemon/pkg/store"
)

var (
	ErrQueueFull     = errors.New("session busy: too many queued messages")
	ErrClosed        = errors.New("session closed")
	ErrNoPendingEdit = errors.New("no pending edit")
)

// Transport delivers events to the client that owns a session.
type Transport interface {
	Send(event protocol.Event) error
}

// Handler processes one inbound message. Calls for a session never overlap.
type Handler func(ctx context.Context, s *Session, msg protocol.ClientMessage)

// PendingEdit is a provider-requested edit held until the human accepts or rejects it.
type PendingEdit struct {
	ProviderID string                 `json:"providerId"`
	Function   string                 `json:"function"`
	Arguments  map[string]interface{} `json:"arguments"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type Session struct {
	id        string
	transport Transport
	logger    logger.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan protocol.ClientMessage
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	mode        string
	providerID  string
	doc         store.DocumentContext
	trust       bool
	pendingEdit *PendingEdit
	results     map[string][]store.FunctionResult
}

func newSession(id string, t Transport, mode, providerID string, queueSize int, log logger.ILogger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		transport:  t,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan protocol.ClientMessage, queueSize),
		done:       make(chan struct{}),
		mode:       mode,
		providerID: providerID,
		results:    make(map[string][]store.FunctionResult),
	}
}

func (s *Session) ID() string { return s.id }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once the worker has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue hands msg to the session worker without blocking.
func (s *Session) Enqueue(msg protocol.ClientMessage) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) run(h Handler) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			s.handle(h, msg)
		}
	}
}

func (s *Session) handle(h Handler, msg protocol.ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session", "Handler panicked", map[string]interface{}{
				"session_id": s.id,
				"type":       msg.Type,
				"panic":      r,
			})
			s.Emit(protocol.Error("Internal error"))
		}
	}()
	h(s.ctx, s, msg)
}

func (s *Session) close() {
	s.once.Do(s.cancel)
}

// Emit sends an event to the client. Delivery failures are logged, not returned,
// since a vanished client must not abort work already under way.
func (s *Session) Emit(event protocol.Event) {
	if err := s.transport.Send(event); err != nil {
		s.logger.Debug("Session", "Dropped event", map[string]interface{}{
			"session_id": s.id,
			"type":       event.Type(),
			"error":      err.Error(),
		})
	}
}

func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

func (s *Session) ProviderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerID
}

func (s *Session) SetProviderID(id string) {
	s.mu.Lock()
	s.providerID = id
	s.mu.Unlock()
}

func (s *Session) Trust() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trust
}

func (s *Session) SetTrust(trust bool) {
	s.mu.Lock()
	s.trust = trust
	s.mu.Unlock()
}

// DocumentContext returns a copy that is safe to hand to a provider.
func (s *Session) DocumentContext() store.DocumentContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	dc := s.doc
	if s.doc.CurrentFile != nil {
		ref := *s.doc.CurrentFile
		dc.CurrentFile = &ref
	}
	dc.History = append([]store.ConversationEntry(nil), s.doc.History...)
	return dc
}

// PatchContext overlays the non-nil parts of patch.
func (s *Session) PatchContext(patch protocol.ContextPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.CurrentFile != nil {
		ref := *patch.CurrentFile
		s.doc.CurrentFile = &ref
	}
	if patch.CurrentContent != nil {
		s.doc.CurrentContent = *patch.CurrentContent
	}
	if patch.History != nil {
		s.doc.History = append([]store.ConversationEntry(nil), patch.History...)
	}
}

func (s *Session) AppendHistory(entry store.ConversationEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.doc.History = append(s.doc.History, entry)
	s.mu.Unlock()
}

// LastHistoryContent returns the newest entry's content, or "".
func (s *Session) LastHistoryContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.doc.History); n > 0 {
		return s.doc.History[n-1].Content
	}
	return ""
}

// ClearHistory drops the conversation along with queued function results and any pending edit.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.doc.History = nil
	s.results = make(map[string][]store.FunctionResult)
	s.pendingEdit = nil
	s.mu.Unlock()
}

// QueueResult holds r until providerID is next invoked.
func (s *Session) QueueResult(providerID string, r store.FunctionResult) {
	s.mu.Lock()
	s.results[providerID] = append(s.results[providerID], r)
	s.mu.Unlock()
}

// TakeResults returns and forgets the results queued for providerID.
func (s *Session) TakeResults(providerID string) []store.FunctionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[providerID]
	delete(s.results, providerID)
	return r
}

// SetPendingEdit replaces any edit already awaiting approval.
func (s *Session) SetPendingEdit(edit PendingEdit) {
	if edit.CreatedAt.IsZero() {
		edit.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.pendingEdit = &edit
	s.mu.Unlock()
}

func (s *Session) PendingEdit() (PendingEdit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingEdit == nil {
		return PendingEdit{}, false
	}
	return *s.pendingEdit, true
}

// ResolvePendingEdit removes the pending edit and returns it.
func (s *Session) ResolvePendingEdit() (PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingEdit == nil {
		return PendingEdit{}, ErrNoPendingEdit
	}
	edit := *s.pendingEdit
	s.pendingEdit = nil
	return edit, nil
}
