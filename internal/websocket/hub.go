package websocket

import (
	"context"
	"sync"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/events"
	"ai-daemon/pkg/session"
)

// Greeter sends the first event of a new session.
type Greeter interface {
	Greet(ctx context.Context, s *session.Session)
}

// Publisher receives session lifecycle audit events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Hub owns the set of live connections and ties each one to its session.
type Hub struct {
	// Connected clients by session id.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	sessions  *session.Registry
	greeter   Greeter
	publisher Publisher
	logger    logger.ILogger
}

func NewHub(sessions *session.Registry, greeter Greeter, publisher Publisher, log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sessions:   sessions,
		greeter:    greeter,
		publisher:  publisher,
		logger:     log,
	}
}

// Run serializes connection bookkeeping until ctx is done, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID()] = client
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"session_id": client.sessionID()})
			h.publish(ctx, events.SessionOpened(client.sessionID()))

		case client := <-h.unregister:
			h.drop(client)
			h.publish(ctx, events.SessionClosed(client.sessionID()))

		case <-ctx.Done():
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				h.drop(c)
			}
			h.logger.Info("Hub", "Hub stopped", map[string]interface{}{"dropped": len(clients)})
			return
		}
	}
}

func (h *Hub) drop(client *Client) {
	id := client.sessionID()
	h.mu.Lock()
	if current, ok := h.clients[id]; ok && current == client {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	client.closeSend()
	h.sessions.Close(id)
	h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"session_id": id})
}

func (h *Hub) publish(ctx context.Context, e events.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, e); err != nil {
		h.logger.Warn("Hub", "Failed to publish session event", map[string]interface{}{"error": err.Error()})
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
