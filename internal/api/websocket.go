package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsWriteWait bounds a single outbound frame write.
const wsWriteWait = 10 * time.Second

// wsIdleTimeout is spec.md §5's WebSocket idle timeout: a connection that
// sends nothing (not even a pong) for this long is dropped.
const wsIdleTimeout = 60 * time.Second

// wsPingInterval is how often the server pings an idle connection to
// keep wsIdleTimeout from firing on a merely-quiet (but alive) client.
const wsPingInterval = wsIdleTimeout / 2

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket implements GET/WS /ws (C17): upgrades the connection,
// subscribes to the hub (C14), and forwards every broadcast Message as
// JSON until the hub closes the subscription (backpressure) or the
// connection errors. Per spec.md §4.17 the UI is expected to have
// already called /health successfully before opening this connection;
// the server does not itself re-verify that here, since nothing about
// this handler depends on auth/stream health beyond what the hub already
// reflects in its broadcast content.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Hub == nil {
		_ = conn.WriteJSON(gin.H{"type": "error", "ts": time.Now(), "payload": "hub not ready"})
		return
	}

	messages, unsub := s.Hub.Subscribe()
	defer unsub()

	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	// Drain inbound frames (pings and the occasional client message) on
	// their own goroutine so a slow/idle client doesn't block outbound
	// broadcast delivery; closeCh signals the write loop to stop once the
	// read side sees an error (client gone).
	closeCh := make(chan struct{})
	go func() {
		defer close(closeCh)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closeCh:
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg, ok := <-messages:
			if !ok {
				// Hub closed this subscriber due to backpressure (spec.md
				// §4.17): close with a distinguishable code rather than
				// silently dropping the connection.
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber overflow"),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[ws] write error: %v", err)
				return
			}
		}
	}
}
