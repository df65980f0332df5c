package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs runs one connection to completion: it opens a session, greets the client,
// then pumps frames until the peer goes away.
func ServeWs(hub *Hub, conn *websocket.Conn) {
	client := newClient(hub, conn, hub.logger)
	client.session = hub.sessions.Open(client)

	select {
	case hub.register <- client:
	case <-hub.done:
		client.closeSend()
		hub.sessions.Close(client.sessionID())
		conn.Close()
		return
	}

	// Writes must flow before the greeting so it is not stuck behind a full buffer.
	written := make(chan struct{})
	go func() {
		defer close(written)
		client.writePump()
	}()
	if hub.greeter != nil {
		hub.greeter.Greet(client.session.Context(), client.session)
	}
	client.readPump()

	// The connection is released when this returns.
	<-written
}
