// Package sessiontest provides an in-memory Transport for tests.
package sessiontest

import (
	"errors"
	"sync"
	"time"

	"ai-daemon/pkg/protocol"
)

var ErrDisconnected = errors.New("recorder disconnected")

// Recorder keeps every event it is sent.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	closed bool
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Send(event protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrDisconnected
	}
	r.events = append(r.events, event)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect makes later sends fail.
func (r *Recorder) Disconnect() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

// Types lists the event types received so far, in order.
func (r *Recorder) Types() []string {
	events := r.Events()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type()
	}
	return types
}

// OfType returns the received events of type t.
func (r *Recorder) OfType(t string) []protocol.Event {
	var out []protocol.Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until an event of type t has arrived or timeout elapses.
func (r *Recorder) WaitFor(t string, timeout time.Duration) (protocol.Event, bool) {
	deadline := time.After(timeout)
	for {
		if got := r.OfType(t); len(got) > 0 {
			return got[0], true
		}
		select {
		case <-r.notify:
		case <-deadline:
			return nil, false
		}
	}
}
