// Package chat runs conversational turns: provider selection, streaming, side effects
// and autonomous handoffs between providers.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/events"
	"ai-daemon/pkg/matcher"
	"ai-daemon/pkg/protocol"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/session"
	"ai-daemon/pkg/store"

	"github.com/uber-go/tally/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxHops = 10

var ErrEmptyTurn = errors.New("empty turn")

// Turn outcomes, used in metrics and audit events.
const (
	OutcomeDone          = "done"
	OutcomeLoopPrevented = "loop_prevented"
	OutcomeHopLimit      = "hop_limit"
	OutcomeAwaitingHuman = "awaiting_human"
	OutcomeError         = "error"
)

// Turn is one top-level user message.
type Turn struct {
	Text           string
	TargetProvider string
	TrustMode      bool
}

// Publisher receives audit events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Orchestrator struct {
	matcher   *matcher.Matcher
	vault     Vault
	mentions  map[string]string
	maxHops   int
	workspace bool
	publisher Publisher
	scope     tally.Scope
	tracer    trace.Tracer
	now       func() time.Time
	logger    logger.ILogger
}

type Option func(*Orchestrator)

// WithMaxHops bounds how many handoffs one turn may make.
func WithMaxHops(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxHops = n
		}
	}
}

func WithMentions(table map[string]string) Option {
	return func(o *Orchestrator) { o.mentions = table }
}

// WithWorkspaceListing includes the vault document list in every system prompt.
func WithWorkspaceListing(enabled bool) Option {
	return func(o *Orchestrator) { o.workspace = enabled }
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithScope(scope tally.Scope) Option {
	return func(o *Orchestrator) { o.scope = scope }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(log logger.ILogger) Option {
	return func(o *Orchestrator) { o.logger = log }
}

func New(m *matcher.Matcher, v Vault, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		matcher:  m,
		vault:    v,
		mentions: DefaultMentions,
		maxHops:  DefaultMaxHops,
		scope:    tally.NoopScope,
		tracer:   otel.Tracer("ai-daemon/chat"),
		now:      time.Now,
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.scope = o.scope.SubScope("chat")
	return o
}

// Run handles one top-level turn to completion. Exactly one terminal event is emitted:
// done, awaitingHuman or error. The returned error mirrors the error event.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session, turn Turn) error {
	if strings.TrimSpace(turn.Text) == "" {
		s.Emit(protocol.Error("Empty message"))
		return ErrEmptyTurn
	}

	ctx, span := o.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("session.id", s.ID()),
		attribute.Bool("trust", turn.TrustMode),
	))
	defer span.End()

	s.SetTrust(turn.TrustMode)

	target := turn.TargetProvider
	if target == "" {
		target = DetectHandoff(turn.Text, o.mentions).Target
	}

	var chain ChainRecord
	outcome, err := o.loop(ctx, s, turn.Text, target, &chain)

	span.SetAttributes(attribute.StringSlice("chain", chain.Providers()), attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.scope.Tagged(map[string]string{"kind": errorKind(err)}).Counter("errors").Inc(1)
		o.logger.Error("Orchestrator", "Turn failed", map[string]interface{}{
			"session_id": s.ID(),
			"chain":      chain.Providers(),
			"error":      err.Error(),
		})
		s.Emit(protocol.Error(err.Error()))
	}

	o.scope.Tagged(map[string]string{"outcome": outcome}).Counter("turns").Inc(1)
	o.publish(ctx, events.TurnCompleted(s.ID(), chain.Providers(), outcome))
	return err
}

// loop runs hops until the turn terminates. Only the first hop carries user text;
// later hops continue from history.
func (o *Orchestrator) loop(ctx context.Context, s *session.Session, text, target string, chain *ChainRecord) (string, error) {
	for {
		s.Emit(protocol.Thinking())

		p, sel, err := o.resolve(ctx, s, text, target)
		if err != nil {
			return OutcomeError, err
		}
		chain.Record(p.ID())
		hop := chain.Hop()
		s.Emit(protocol.ProviderSelected(sel))

		reply, err := o.hop(ctx, s, p, text, hop)
		if err != nil {
			return OutcomeError, err
		}

		if reply.Text == "" {
			s.Emit(protocol.Done())
			return OutcomeDone, nil
		}

		handoff := DetectHandoff(reply.Text, o.mentions)
		if handoff.Human && !s.Trust() {
			var pending interface{}
			if edit, ok := s.PendingEdit(); ok {
				pending = edit
			}
			s.Emit(protocol.AwaitingHuman(p.ID(), pending))
			return OutcomeAwaitingHuman, nil
		}

		next := handoff.Target
		switch {
		case next == "":
			s.Emit(protocol.Done())
			return OutcomeDone, nil
		case chain.Revisits(next):
			o.logger.Info("Orchestrator", "Handoff would loop, stopping", map[string]interface{}{
				"session_id": s.ID(),
				"chain":      chain.Providers(),
				"target":     next,
			})
			s.Emit(protocol.Done())
			return OutcomeLoopPrevented, nil
		case hop >= o.maxHops:
			o.logger.Info("Orchestrator", "Hop limit reached", map[string]interface{}{
				"session_id": s.ID(),
				"chain":      chain.Providers(),
				"max_hops":   o.maxHops,
			})
			s.Emit(protocol.Done())
			return OutcomeHopLimit, nil
		}

		s.Emit(protocol.Chaining(next, hop+1))
		text, target = "", next
	}
}

// resolve picks the provider for this hop: an explicit target first, then automatic
// selection in auto mode, then the session's pinned provider.
func (o *Orchestrator) resolve(ctx context.Context, s *session.Session, text, target string) (provider.Provider, matcher.Selection, error) {
	switch {
	case target != "":
		p, sel, err := o.matcher.SelectManual(ctx, target)
		if err != nil {
			return nil, sel, err
		}
		s.SetProviderID(target)
		return p, sel, nil

	case s.Mode() == matcher.ModeAuto:
		task := text
		if task == "" {
			task = s.LastHistoryContent()
		}
		return o.matcher.SelectBest(ctx, task)

	default:
		return o.matcher.SelectManual(ctx, s.ProviderID())
	}
}

// hop invokes p once and applies its reply to the session.
func (o *Orchestrator) hop(ctx context.Context, s *session.Session, p provider.Provider, text string, hop int) (provider.Result, error) {
	ctx, span := o.tracer.Start(ctx, "chat.hop", trace.WithAttributes(
		attribute.String("provider.id", p.ID()),
		attribute.Int("hop", hop),
	))
	defer span.End()

	dc := s.DocumentContext()
	prompt := text
	if prompt == "" {
		// Continue from the newest entry, which is then the request rather than history.
		if n := len(dc.History); n > 0 {
			prompt = dc.History[n-1].Content
			dc.History = dc.History[:n-1]
		}
		if prompt == "" {
			prompt = "Continue"
		}
	}
	dc.FunctionResults = s.TakeResults(p.ID())
	dc.Today = o.now().Format("2006-01-02")
	if o.workspace && o.vault != nil {
		dc.Workspace = o.vault.Documents()
	}

	if text != "" {
		s.AppendHistory(store.ConversationEntry{Role: store.RoleUser, Content: text, Timestamp: o.now()})
	}

	start := o.now()
	reply, err := p.SendMessage(ctx, prompt, dc, func(fragment string) {
		s.Emit(protocol.Chunk(fragment, p.ID()))
	})
	elapsed := o.now().Sub(start)
	o.scope.Tagged(map[string]string{"provider": p.ID()}).Timer("provider_latency").Record(elapsed)
	o.scope.Counter("hops").Inc(1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return provider.Result{}, err
	}

	for _, call := range reply.FunctionCalls {
		res := o.execute(s, p.ID(), call)
		o.scope.Tagged(map[string]string{"function": string(call.Name), "status": res.Status()}).Counter("function_calls").Inc(1)
		o.publish(ctx, events.FunctionExecuted(s.ID(), p.ID(), string(call.Name), res.Status()))
		s.Emit(protocol.FunctionCall(call, res, p.ID()))
	}

	if reply.Text != "" {
		s.AppendHistory(store.ConversationEntry{
			Role:       store.RoleAssistant,
			Content:    reply.Text,
			Timestamp:  o.now(),
			ProviderID: p.ID(),
		})
		s.Emit(protocol.Response(reply.Text, p.ID()))
	}

	o.publish(ctx, events.HopCompleted(s.ID(), p.ID(), hop, elapsed, len(reply.Text)))
	o.logger.Debug("Orchestrator", "Hop completed", map[string]interface{}{
		"session_id":     s.ID(),
		"provider_id":    p.ID(),
		"hop":            hop,
		"elapsed_ms":     elapsed.Milliseconds(),
		"function_calls": len(reply.FunctionCalls),
	})
	return reply, nil
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn("Orchestrator", "Failed to publish audit event", map[string]interface{}{
			"type":  e.EventType(),
			"error": err.Error(),
		})
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, provider.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, provider.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, provider.ErrBackendProcess):
		return "process"
	case errors.Is(err, matcher.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, matcher.ErrProviderUnavailable), errors.Is(err, matcher.ErrNoProviderAvailable):
		return "no_provider"
	default:
		return "other"
	}
}
