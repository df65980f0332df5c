// Package providertest provides a scriptable in-memory provider for tests.
package providertest

import (
	"context"
	"sync"

	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/toolcall"
	"ai-daemon/pkg/store"
)

// Call records one SendMessage invocation.
type Call struct {
	Turn    string
	Context store.DocumentContext
}

// Fake replies with a scripted sequence of raw outputs. Raw output goes through the
// real tool-call parser, so replies may carry <tool_use> blocks and mentions.
type Fake struct {
	provider.Base

	mu        sync.Mutex
	available bool
	replies   []string
	err       error
	block     bool
	fragment  int
	calls     []Call
	probes    int
}

func New(id string, capabilities ...string) *Fake {
	return &Fake{
		Base:      provider.NewBase(id, id, "", capabilities, true),
		available: true,
	}
}

// NewDisabled returns a fake that is registered but switched off.
func NewDisabled(id string, capabilities ...string) *Fake {
	return &Fake{
		Base:      provider.NewBase(id, id, "", capabilities, false),
		available: true,
	}
}

func (f *Fake) WithAvailable(v bool) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
	return f
}

// WithReplies scripts raw outputs. Once exhausted, the last reply repeats.
func (f *Fake) WithReplies(raw ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = raw
	return f
}

func (f *Fake) WithError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// WithFragmentSize relays output in pieces of about n bytes instead of two halves.
func (f *Fake) WithFragmentSize(n int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragment = n
	return f
}

// Blocking makes SendMessage wait for context cancellation.
func (f *Fake) Blocking() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = true
	return f
}

func (f *Fake) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.available
}

func (f *Fake) ParseOutput(raw string) provider.Result {
	return toolcall.Parse(raw).Result()
}

func (f *Fake) SendMessage(ctx context.Context, turn string, dc store.DocumentContext, onFragment provider.FragmentFunc) (provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Turn: turn, Context: dc})
	n := len(f.calls)
	err, block, size := f.err, f.block, f.fragment
	var raw string
	if len(f.replies) > 0 {
		idx := n - 1
		if idx >= len(f.replies) {
			idx = len(f.replies) - 1
		}
		raw = f.replies[idx]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return provider.Result{}, ctx.Err()
	}
	if err != nil {
		return provider.Result{}, err
	}

	if onFragment != nil && raw != "" && size > 0 {
		for rest := raw; rest != ""; {
			n := min(size, len(rest))
			for n < len(rest) && (rest[n]&0xC0) == 0x80 {
				n++
			}
			onFragment(rest[:n])
			rest = rest[n:]
		}
	} else if onFragment != nil && raw != "" {
		half := len(raw) / 2
		for half > 0 && half < len(raw) && (raw[half]&0xC0) == 0x80 {
			half--
		}
		if half > 0 {
			onFragment(raw[:half])
		}
		onFragment(raw[half:])
	}
	return f.ParseOutput(raw), nil
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}
