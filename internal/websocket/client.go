package websocket

import (
	"errors"
	"sync"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/protocol"
	"ai-daemon/pkg/session"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Vault updates carry whole documents.
	maxMessageSize = 32 << 20

	sendBuffer = 256
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrSlowClient   = errors.New("client too slow, disconnected")
)

// Client is a middleman between the websocket connection and its session.
// It implements session.Transport.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *session.Session
	logger  logger.ILogger

	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
	// sendWait bounds how long Send waits for room in the buffer.
	sendWait time.Duration
}

func newClient(hub *Hub, conn *websocket.Conn, log logger.ILogger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		logger:   log,
		send:     make(chan []byte, sendBuffer),
		quit:     make(chan struct{}),
		sendWait: writeWait,
	}
}

// Send encodes event and queues it for the write pump, waiting for buffer room. Frames
// are never dropped: a client that stays full for sendWait is disconnected instead.
func (c *Client) Send(event protocol.Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}

	select {
	case <-c.quit:
		return ErrClientClosed
	case c.send <- data:
		return nil
	default:
	}

	timer := time.NewTimer(c.sendWait)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return ErrClientClosed
	case <-timer.C:
		c.logger.Warn("WebSocket", "Client not reading, disconnecting", map[string]interface{}{
			"session_id": c.sessionID(),
			"buffered":   len(c.send),
		})
		c.closeSend()
		return ErrSlowClient
	}
}

// closeSend stops the write pump, which then closes the connection and ends the read
// pump. Safe to call more than once and concurrently with Send.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.quit) })
}


func (c *Client) sessionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// readPump decodes inbound frames and queues them on the session until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.logger.Debug("WebSocket", "readPump exiting", map[string]interface{}{"session_id": c.sessionID()})
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket", "Connection closed unexpectedly", map[string]interface{}{
					"session_id": c.sessionID(),
					"error":      err.Error(),
				})
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.session.Emit(protocol.Error(err.Error()))
			continue
		}
		if err := c.session.Enqueue(msg); err != nil {
			c.logger.Warn("WebSocket", "Rejected inbound message", map[string]interface{}{
				"session_id": c.sessionID(),
				"type":       msg.Type,
				"error":      err.Error(),
			})
			c.session.Emit(protocol.Error(err.Error()))
		}
	}
}

// writePump writes one frame per queued event and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSend()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket", "Write failed", map[string]interface{}{
					"session_id": c.sessionID(),
					"error":      err.Error(),
				})
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
