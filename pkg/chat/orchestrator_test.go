package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-daemon/pkg/events"
	"ai-daemon/pkg/matcher"
	"ai-daemon/pkg/protocol"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/providertest"
	"ai-daemon/pkg/session"
	"ai-daemon/pkg/session/sessiontest"
	"ai-daemon/pkg/store"
	"ai-daemon/pkg/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type harness struct {
	orch  *Orchestrator
	sess  *session.Session
	rec   *sessiontest.Recorder
	vault *vault.Cache
	scope tally.TestScope
	audit *recordingPublisher
}

func newHarness(t *testing.T, fakes []*providertest.Fake, opts ...Option) *harness {
	t.Helper()

	reg := provider.NewRegistry(nil)
	for _, f := range fakes {
		require.NoError(t, reg.Register(f))
	}

	h := &harness{
		rec:   sessiontest.NewRecorder(),
		vault: vault.New(),
		scope: tally.NewTestScope("", nil),
		audit: &recordingPublisher{},
	}
	base := []Option{
		WithScope(h.scope),
		WithPublisher(h.audit),
		WithClock(func() time.Time { return fixedNow }),
	}
	h.orch = New(matcher.New(reg), h.vault, append(base, opts...)...)

	sessions := session.NewRegistry(func(context.Context, *session.Session, protocol.ClientMessage) {})
	h.sess = sessions.Open(h.rec)
	t.Cleanup(func() { _ = sessions.CloseAll(time.Second) })
	return h
}

func (h *harness) run(turn Turn) error {
	return h.orch.Run(context.Background(), h.sess, turn)
}

// flow is the event type sequence with chunks dropped, since chunking is up to the adapter.
func (h *harness) flow() []string {
	var out []string
	for _, t := range h.rec.Types() {
		if t != protocol.EventChunk {
			out = append(out, t)
		}
	}
	return out
}

func (h *harness) counter(key string) int64 {
	if c, ok := h.scope.Snapshot().Counters()[key]; ok {
		return c.Value()
	}
	return 0
}

func TestRunSingleHop(t *testing.T) {
	claude := providertest.New("claude", "editing", "nuance").WithReplies("Here is the edit.")
	h := newHarness(t, []*providertest.Fake{claude})

	require.NoError(t, h.run(Turn{Text: "please edit this"}))

	assert.Equal(t, []string{
		protocol.EventThinking,
		protocol.EventProviderSelected,
		protocol.EventChunk,
		protocol.EventChunk,
		protocol.EventResponse,
		protocol.EventDone,
	}, h.rec.Types())

	var streamed string
	for _, c := range h.rec.OfType(protocol.EventChunk) {
		assert.Equal(t, "claude", c["providerId"])
		streamed += c["text"].(string)
	}
	assert.Equal(t, "Here is the edit.", streamed)

	history := h.sess.DocumentContext().History
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, "please edit this", history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "claude", history[1].ProviderID)

	calls := claude.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "please edit this", calls[0].Turn)
	assert.Empty(t, calls[0].Context.History, "the turn itself is not repeated as history")
	assert.Equal(t, "2026-03-14", calls[0].Context.Today)

	assert.EqualValues(t, 1, h.counter("chat.turns+outcome=done"))
	assert.Equal(t, []string{events.TypeHopCompleted, events.TypeTurnCompleted}, h.audit.types())
}

func TestRunAutoSelectsByCapability(t *testing.T) {
	editor := providertest.New("editor", "editing")
	researcher := providertest.New("researcher", "research", "grounding").WithReplies("Findings.")
	h := newHarness(t, []*providertest.Fake{editor, researcher})

	require.NoError(t, h.run(Turn{Text: "research the latest news on X"}))

	sel := h.rec.OfType(protocol.EventProviderSelected)
	require.Len(t, sel, 1)
	assert.Equal(t, "researcher", sel[0]["providerId"])
	assert.Equal(t, 1.0, sel[0]["score"])
	assert.Equal(t, matcher.ModeAuto, sel[0]["mode"])
	assert.Empty(t, editor.Calls())
}

func TestRunUsesPinnedProviderInManualMode(t *testing.T) {
	claude := providertest.New("claude", "editing").WithReplies("ok")
	gemini := providertest.New("gemini", "research").WithReplies("ok")
	h := newHarness(t, []*providertest.Fake{claude, gemini})
	h.sess.SetMode(matcher.ModeManual)
	h.sess.SetProviderID("gemini")

	require.NoError(t, h.run(Turn{Text: "please edit this"}))

	assert.Empty(t, claude.Calls())
	assert.Len(t, gemini.Calls(), 1)
}

func TestRunTargetsMentionInUserText(t *testing.T) {
	claude := providertest.New("claude", "editing").WithReplies("ok")
	gemini := providertest.New("gemini", "research").WithReplies("ok")
	h := newHarness(t, []*providertest.Fake{claude, gemini})

	require.NoError(t, h.run(Turn{Text: "@gemini please edit this"}))

	assert.Empty(t, claude.Calls())
	assert.Len(t, gemini.Calls(), 1)
	assert.Equal(t, "gemini", h.sess.ProviderID())
}

func TestRunRejectsEmptyTurn(t *testing.T) {
	claude := providertest.New("claude", "editing")
	h := newHarness(t, []*providertest.Fake{claude})

	for _, text := range []string{"", "   \n\t"} {
		err := h.run(Turn{Text: text})
		assert.ErrorIs(t, err, ErrEmptyTurn)
	}

	assert.Equal(t, []string{protocol.EventError, protocol.EventError}, h.rec.Types())
	assert.Equal(t, "Empty message", h.rec.Events()[0]["message"])
	assert.Empty(t, claude.Calls())
	assert.Empty(t, h.sess.DocumentContext().History)
}

func TestRunStopsForHumanWithoutTrust(t *testing.T) {
	tests := []struct {
		name      string
		trust     bool
		wantFlow  []string
		wantCalls int
	}{
		{
			name:  "untrusted pauses even with hops left",
			trust: false,
			wantFlow: []string{
				protocol.EventThinking, protocol.EventProviderSelected, protocol.EventResponse,
				protocol.EventAwaitingHuman,
			},
		},
		{
			name:  "trusted ignores the human and hands off",
			trust: true,
			wantFlow: []string{
				protocol.EventThinking, protocol.EventProviderSelected, protocol.EventResponse,
				protocol.EventChaining,
				protocol.EventThinking, protocol.EventProviderSelected, protocol.EventResponse,
				protocol.EventDone,
			},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := providertest.New("a").WithReplies("Draft ready. @human can you confirm? Or @b could check.")
			b := providertest.New("b").WithReplies("Checked.")
			h := newHarness(t, []*providertest.Fake{a, b})

			require.NoError(t, h.run(Turn{Text: "write a draft", TargetProvider: "a", TrustMode: tt.trust}))

			assert.Equal(t, tt.wantFlow, h.flow())
			assert.Len(t, b.Calls(), tt.wantCalls)
		})
	}
}

func TestAwaitingHumanCarriesPendingEdit(t *testing.T) {
	a := providertest.New("a").WithReplies(
		"Proposed a fix, @human please approve.\n" +
			`<tool_use>{"name":"suggestEdit","arguments":{"search":"teh","replace":"the"}}</tool_use>`)
	h := newHarness(t, []*providertest.Fake{a})

	require.NoError(t, h.run(Turn{Text: "fix typos", TargetProvider: "a"}))

	ev, ok := h.rec.WaitFor(protocol.EventAwaitingHuman, 0)
	require.True(t, ok)
	edit, ok := ev["pendingEdit"].(session.PendingEdit)
	require.True(t, ok)
	assert.Equal(t, "a", edit.ProviderID)
	assert.Equal(t, "suggestEdit", edit.Function)
	assert.Equal(t, "teh", edit.Arguments["search"])
}

func TestRunPreventsOscillation(t *testing.T) {
	a := providertest.New("a").WithReplies("Over to @b for review.")
	b := providertest.New("b").WithReplies("Looks fine, back to @a.")
	h := newHarness(t, []*providertest.Fake{a, b})

	require.NoError(t, h.run(Turn{Text: "start", TargetProvider: "a"}))

	assert.Equal(t, []string{
		protocol.EventThinking, protocol.EventProviderSelected, protocol.EventResponse,
		protocol.EventChaining,
		protocol.EventThinking, protocol.EventProviderSelected, protocol.EventResponse,
		protocol.EventDone,
	}, h.flow())
	assert.Len(t, a.Calls(), 1)
	assert.Len(t, b.Calls(), 1)

	chaining := h.rec.OfType(protocol.EventChaining)
	require.Len(t, chaining, 1)
	assert.Equal(t, "b", chaining[0]["toProvider"])
	assert.Equal(t, 1, chaining[0]["hop"])

	// The next provider continues from the previous reply.
	bc := b.Calls()[0]
	assert.Equal(t, "Over to @b for review.", bc.Turn)
	require.Len(t, bc.Context.History, 1)
	assert.Equal(t, "start", bc.Context.History[0].Content)

	assert.Equal(t, "b", h.sess.ProviderID())
	assert.EqualValues(t, 1, h.counter("chat.turns+outcome=loop_prevented"))

	history := h.sess.DocumentContext().History
	require.Len(t, history, 3, "user text is recorded once")
	assert.Equal(t, store.RoleUser, history[0].Role)
}

func TestRunPreventsSelfHandoff(t *testing.T) {
	a := providertest.New("a").WithReplies("I, @a, will keep going.")
	h := newHarness(t, []*providertest.Fake{a})

	require.NoError(t, h.run(Turn{Text: "start", TargetProvider: "a"}))

	assert.Len(t, a.Calls(), 1)
	assert.Empty(t, h.rec.OfType(protocol.EventChaining))
	assert.Equal(t, protocol.EventDone, h.rec.Types()[len(h.rec.Types())-1])
}

func TestRunStopsAtSecondToLast(t *testing.T) {
	a := providertest.New("a").WithReplies("@b")
	b := providertest.New("b").WithReplies("@c")
	c := providertest.New("c").WithReplies("@b again")
	h := newHarness(t, []*providertest.Fake{a, b, c})

	require.NoError(t, h.run(Turn{Text: "start", TargetProvider: "a"}))

	assert.Len(t, a.Calls(), 1)
	assert.Len(t, b.Calls(), 1)
	assert.Len(t, c.Calls(), 1)
	assert.Len(t, h.rec.OfType(protocol.EventChaining), 2)
}

func TestRunHopCeiling(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantCalls map[string]int
		wantHops  int
	}{
		{
			name:      "default ceiling",
			wantCalls: map[string]int{"a": 4, "b": 4, "c": 3},
			wantHops:  DefaultMaxHops,
		},
		{
			name:      "configured ceiling",
			opts:      []Option{WithMaxHops(2)},
			wantCalls: map[string]int{"a": 1, "b": 1, "c": 1},
			wantHops:  2,
		},
		{
			name:      "chaining disabled",
			opts:      []Option{WithMaxHops(0)},
			wantCalls: map[string]int{"a": 1, "b": 0, "c": 0},
			wantHops:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakes := map[string]*providertest.Fake{
				"a": providertest.New("a").WithReplies("next is @b"),
				"b": providertest.New("b").WithReplies("next is @c"),
				"c": providertest.New("c").WithReplies("next is @a"),
			}
			h := newHarness(t, []*providertest.Fake{fakes["a"], fakes["b"], fakes["c"]}, tt.opts...)

			require.NoError(t, h.run(Turn{Text: "start", TargetProvider: "a"}))

			for id, want := range tt.wantCalls {
				assert.Len(t, fakes[id].Calls(), want, id)
			}

			chaining := h.rec.OfType(protocol.EventChaining)
			require.Len(t, chaining, tt.wantHops)
			for i, ev := range chaining {
				assert.Equal(t, i+1, ev["hop"], "hop numbers increase by one")
			}
			assert.Len(t, h.rec.OfType(protocol.EventProviderSelected), tt.wantHops+1)
			assert.Len(t, h.rec.OfType(protocol.EventDone), 1)
		})
	}
}

func TestRunBackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{name: "timeout", err: provider.Timeout("A", time.Minute), wantKind: "timeout"},
		{name: "unavailable", err: provider.Unavailable("A", assert.AnError), wantKind: "unavailable"},
		{name: "process", err: &provider.ProcessError{Provider: "A", ExitCode: 2, Diagnostic: "bad flag"}, wantKind: "process"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := providertest.New("a").WithError(tt.err)
			h := newHarness(t, []*providertest.Fake{a})

			err := h.run(Turn{Text: "go", TargetProvider: "a"})
			assert.ErrorIs(t, err, tt.err)

			assert.Equal(t, []string{protocol.EventThinking, protocol.EventProviderSelected, protocol.EventError}, h.flow())
			assert.Equal(t, tt.err.Error(), h.rec.OfType(protocol.EventError)[0]["message"])
			assert.EqualValues(t, 1, h.counter("chat.errors+kind="+tt.wantKind))
			assert.EqualValues(t, 1, h.counter("chat.turns+outcome=error"))
		})
	}
}

func TestRunErrorMidChainAbortsChain(t *testing.T) {
	a := providertest.New("a").WithReplies("ask @b")
	b := providertest.New("b").WithError(provider.Timeout("B", time.Second))
	h := newHarness(t, []*providertest.Fake{a, b})

	err := h.run(Turn{Text: "go", TargetProvider: "a"})
	assert.ErrorIs(t, err, provider.ErrBackendTimeout)

	types := h.flow()
	assert.Equal(t, protocol.EventError, types[len(types)-1])
	assert.Empty(t, h.rec.OfType(protocol.EventDone))
}

func TestRunSelectionErrors(t *testing.T) {
	tests := []struct {
		name    string
		fakes   []*providertest.Fake
		turn    Turn
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown explicit target",
			fakes:   []*providertest.Fake{providertest.New("a")},
			turn:    Turn{Text: "go", TargetProvider: "zzz"},
			wantErr: matcher.ErrUnknownProvider,
			wantMsg: "unknown provider: zzz",
		},
		{
			name:    "nothing available",
			fakes:   []*providertest.Fake{providertest.New("a", "editing").WithAvailable(false)},
			turn:    Turn{Text: "edit"},
			wantErr: matcher.ErrNoProviderAvailable,
			wantMsg: "no AI providers available",
		},
		{
			name: "handoff to unregistered provider",
			fakes: []*providertest.Fake{
				providertest.New("a").WithReplies("maybe @composer knows"),
			},
			turn:    Turn{Text: "go", TargetProvider: "a"},
			wantErr: matcher.ErrUnknownProvider,
			wantMsg: "unknown provider: composer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.fakes)

			err := h.run(tt.turn)
			assert.ErrorIs(t, err, tt.wantErr)

			errs := h.rec.OfType(protocol.EventError)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.wantMsg, errs[0]["message"])
			assert.Empty(t, h.rec.OfType(protocol.EventDone))
		})
	}
}

func TestRunCancellation(t *testing.T) {
	a := providertest.New("a").Blocking()
	h := newHarness(t, []*providertest.Fake{a})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.orch.Run(ctx, h.sess, Turn{Text: "go", TargetProvider: "a"}) }()

	_, ok := h.rec.WaitFor(protocol.EventProviderSelected, time.Second)
	require.True(t, ok)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("turn did not stop after cancellation")
	}
	assert.EqualValues(t, 1, h.counter("chat.errors+kind=cancelled"))
}

func TestFunctionCalls(t *testing.T) {
	a := providertest.New("a").WithReplies(
		"Looking.\n"+
			`<tool_use>{"name":"searchVault","arguments":{"query":"cat"}}</tool_use>`+
			`<tool_use>{"name":"readDocument","arguments":{"path":"nowhere.md"}}</tool_use>`+
			`<tool_use>{"name":"webSearch","arguments":{"query":"cats"}}</tool_use>`+
			`<tool_use>{"name":"launchRocket","arguments":{}}</tool_use>`,
		"Thanks.",
	)
	h := newHarness(t, []*providertest.Fake{a})
	h.vault.Sync([]store.Document{{ID: "1", Name: "Pets", Path: "pets.md", Text: "a teh cat sat"}})

	require.NoError(t, h.run(Turn{Text: "find my cat note", TargetProvider: "a"}))

	calls := h.rec.OfType(protocol.EventFunctionCall)
	require.Len(t, calls, 4)

	tests := []struct {
		function    string
		wantStatus  string
		wantMessage string
	}{
		{function: "searchVault", wantStatus: StatusSuccess},
		{function: "readDocument", wantStatus: StatusError, wantMessage: "Document not found: nowhere.md"},
		{function: "webSearch", wantStatus: StatusDelegated, wantMessage: "Web search performed by provider"},
		{function: "launchRocket", wantStatus: StatusError, wantMessage: "Unknown function: launchRocket"},
	}
	for i, tt := range tests {
		ev := calls[i]
		assert.Equal(t, tt.function, ev["function"])
		assert.Equal(t, "a", ev["providerId"])
		res := ev["result"].(FunctionResult)
		assert.Equal(t, tt.wantStatus, res.Status(), tt.function)
		if tt.wantMessage != "" {
			assert.Equal(t, tt.wantMessage, res["message"], tt.function)
		}
	}
	results := calls[0]["result"].(FunctionResult)["results"].([]vault.SearchResult)
	require.Len(t, results, 1)
	assert.Equal(t, "pets.md", results[0].Path)

	assert.Equal(t, "Looking.", h.rec.OfType(protocol.EventResponse)[0]["text"])
	assert.EqualValues(t, 1, h.counter("chat.function_calls+function=searchVault,status=success"))

	// Vault results reach the provider on its next invocation, not the current one.
	require.NoError(t, h.run(Turn{Text: "and now?", TargetProvider: "a"}))
	sent := a.Calls()
	require.Len(t, sent, 2)
	assert.Empty(t, sent[0].Context.FunctionResults)
	require.Len(t, sent[1].Context.FunctionResults, 2)
	assert.Equal(t, "searchVault", sent[1].Context.FunctionResults[0].Name)
	assert.Equal(t, "readDocument", sent[1].Context.FunctionResults[1].Name)
	assert.Empty(t, h.sess.TakeResults("a"))
}

func TestVaultFunctionsWithoutVault(t *testing.T) {
	a := providertest.New("a").WithReplies(
		"Looking.\n"+
			`<tool_use>{"name":"searchVault","arguments":{"query":"cat"}}</tool_use>`+
			`<tool_use>{"name":"readDocument","arguments":{"path":"pets.md"}}</tool_use>`,
	)
	reg := provider.NewRegistry(nil)
	require.NoError(t, reg.Register(a))
	orch := New(matcher.New(reg), nil, WithClock(func() time.Time { return fixedNow }))

	rec := sessiontest.NewRecorder()
	sessions := session.NewRegistry(func(context.Context, *session.Session, protocol.ClientMessage) {})
	sess := sessions.Open(rec)
	t.Cleanup(func() { _ = sessions.CloseAll(time.Second) })

	require.NoError(t, orch.Run(context.Background(), sess, Turn{Text: "find my cat note", TargetProvider: "a"}))

	calls := rec.OfType(protocol.EventFunctionCall)
	require.Len(t, calls, 2)
	for _, ev := range calls {
		res := ev["result"].(FunctionResult)
		assert.Equal(t, StatusError, res.Status(), ev["function"])
		assert.Equal(t, "Vault not available", res["message"], ev["function"])
	}
	types := rec.Types()
	assert.Equal(t, protocol.EventDone, types[len(types)-1])
	assert.Len(t, sess.TakeResults("a"), 2)
}

func TestEditFunctionsFollowTrust(t *testing.T) {
	reply := `<tool_use>{"name":"updateNotepad","arguments":{"content":"# New"}}</tool_use>`

	tests := []struct {
		name        string
		trust       bool
		wantPending bool
	}{
		{name: "untrusted edit waits for approval", trust: false, wantPending: true},
		{name: "trusted edit applies", trust: true, wantPending: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := providertest.New("a").WithReplies(reply)
			h := newHarness(t, []*providertest.Fake{a})

			require.NoError(t, h.run(Turn{Text: "rewrite", TargetProvider: "a", TrustMode: tt.trust}))

			calls := h.rec.OfType(protocol.EventFunctionCall)
			require.Len(t, calls, 1)
			res := calls[0]["result"].(FunctionResult)
			assert.Equal(t, StatusPending, res.Status())
			assert.Equal(t, tt.trust, res["autoApply"])

			_, pending := h.sess.PendingEdit()
			assert.Equal(t, tt.wantPending, pending)

			// Edits are applied by the client, so nothing is queued for the provider.
			assert.Empty(t, h.sess.TakeResults("a"))
			// A reply that is only a function call has no text and ends the turn.
			assert.Empty(t, h.rec.OfType(protocol.EventResponse))
			assert.Len(t, h.rec.OfType(protocol.EventDone), 1)
		})
	}
}

func TestWorkspaceListing(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{name: "off", enabled: false, want: 0},
		{name: "on", enabled: true, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := providertest.New("a").WithReplies("ok")
			h := newHarness(t, []*providertest.Fake{a}, WithWorkspaceListing(tt.enabled))
			h.vault.Sync([]store.Document{{ID: "1", Name: "One"}, {ID: "2", Name: "Two"}})

			require.NoError(t, h.run(Turn{Text: "hi", TargetProvider: "a"}))
			assert.Len(t, a.Calls()[0].Context.Workspace, tt.want)
		})
	}
}
