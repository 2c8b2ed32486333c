// internal/gateway/ws.go
// WebSocket upgrade and the per-connection reader/writer pumps. Grounded on
// the teacher's internal/gateway/listener.go Upgrader + handleWebSocket, and
// on other_examples/vtphan-switchboard's handleConnection for the
// ping-ticker + read-deadline + pong-handler shape.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The Gateway mediates untrusted clients by design (spec.md §1); origin
	// filtering, when needed, belongs to a reverse proxy in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
	Subprotocols: []string{protocol.Subprotocol, ""},
}

// ServeHandler upgrades r to a WebSocket and runs the connection to
// completion. It blocks until the connection closes.
func (s *Server) ServeHandler(path string, cfg gatewaycfg.HandlerConfig, dest backend.HttpDestination) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Sugar().Warnw("websocket upgrade failed", "path", path, "err", err)
			return
		}

		connID := s.ids.Next()
		conn := NewConnection(connID, ws, cfg, Deps{
			Pool:         s.pool,
			Topics:       s.topics,
			Lattice:      s.lattice,
			Router:       s.routerFor(path),
			InactiveDest: dest,
		})

		ctx, cancel := context.WithCancel(context.Background())
		conn.cancel = cancel

		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		conn.state.Store(int32(stateAuthorizing))
		raw, token, userID, closeCode, ok := conn.authorize(ctx, dest, r)
		if !ok {
			conn.Close(closeCode, protocol.ReasonBackendError)
			_ = ws.Close()
			return
		}
		conn.tangleToken.Store(token)
		conn.userID.Store(userID)
		s.pool.Register(conn)
		if userID != "" {
			s.pool.AttachUser(connID, userID)
		}

		hello, err := protocol.HelloFrame(raw)
		if err != nil {
			conn.Close(protocol.CloseInternal, "hello encode failed")
			_ = ws.Close()
			return
		}
		conn.Enqueue(hello)
		conn.state.Store(int32(stateActive))
		conn.touch()

		_ = closeCode // already handled above via early return on !ok

		go conn.writePump()
		conn.readPump(ctx)
		conn.cleanup()
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, open := <-c.outbound:
			if !open {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) readPump(ctx context.Context) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.inactivityLoop(ctx)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.Close(protocol.CloseInternal, "read error")
			return
		}
		c.touch()

		frame, err := protocol.ParseClientFrame(raw)
		if err != nil {
			c.Close(protocol.CloseInternal, "bad frame")
			return
		}
		c.dispatch(ctx, frame)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}
