package handler

import (
	"ai-daemon/internal/pkg/logger"
	internalWS "ai-daemon/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type WSHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewWSHandler(hub *internalWS.Hub, log logger.ILogger) *WSHandler {
	return &WSHandler{hub: hub, logger: log}
}

// RegisterRoutes mounts the socket on / and /ws. Plain GETs on those paths fall through.
func (h *WSHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/", h.ServeWs)
	r.Get("/ws", h.ServeWs)
}

// ServeWs upgrades the request and runs the session until the peer disconnects.
func (h *WSHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	remote := c.IP()
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("WSHandler", "Starting WebSocket session", map[string]interface{}{"remote": remote})
		internalWS.ServeWs(h.hub, conn)
		h.logger.Info("WSHandler", "WebSocket session ended", map[string]interface{}{"remote": remote})
	}, websocket.Config{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	})(c)
}
