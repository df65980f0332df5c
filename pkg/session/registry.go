package session

import (
	"errors"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/matcher"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/uber-go/tally/v4"
)

const DefaultQueueSize = 16

// Registry tracks live sessions. Entries never expire; they leave when their connection closes.
type Registry struct {
	cache           *cache.Cache
	handler         Handler
	queueSize       int
	defaultProvider string
	scope           tally.Scope
	logger          logger.ILogger
}

type Option func(*Registry)

func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithDefaultProvider(id string) Option {
	return func(r *Registry) { r.defaultProvider = id }
}

func WithScope(scope tally.Scope) Option {
	return func(r *Registry) { r.scope = scope }
}

func WithLogger(log logger.ILogger) Option {
	return func(r *Registry) { r.logger = log }
}

func NewRegistry(handler Handler, opts ...Option) *Registry {
	r := &Registry{
		cache:     cache.New(cache.NoExpiration, 0),
		handler:   handler,
		queueSize: DefaultQueueSize,
		scope:     tally.NoopScope,
		logger:    logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.scope = r.scope.SubScope("sessions")
	return r
}

// Open creates a session bound to t and starts its worker.
func (r *Registry) Open(t Transport) *Session {
	s := newSession(uuid.NewString(), t, matcher.ModeAuto, r.defaultProvider, r.queueSize, r.logger)
	r.cache.Set(s.id, s, cache.NoExpiration)
	go s.run(r.handler)

	r.scope.Counter("opened").Inc(1)
	r.scope.Gauge("active").Update(float64(r.cache.ItemCount()))
	r.logger.Info("Session", "Session opened", map[string]interface{}{"session_id": s.id})
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	if x, found := r.cache.Get(id); found {
		return x.(*Session), true
	}
	return nil, false
}

// Close cancels the session's in-flight work and forgets it. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	r.cache.Delete(id)
	s.close()

	r.scope.Gauge("active").Update(float64(r.cache.ItemCount()))
	r.logger.Info("Session", "Session closed", map[string]interface{}{"session_id": id})
}

// CloseAll closes every session and waits up to timeout for their workers to exit.
func (r *Registry) CloseAll(timeout time.Duration) error {
	items := r.cache.Items()
	sessions := make([]*Session, 0, len(items))
	for id := range items {
		if s, ok := r.Get(id); ok {
			sessions = append(sessions, s)
		}
		r.Close(id)
	}

	deadline := time.After(timeout)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			return errors.New("timed out waiting for session workers")
		}
	}
	return nil
}

func (r *Registry) Count() int {
	return r.cache.ItemCount()
}
