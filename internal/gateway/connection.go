// internal/gateway/connection.go
// Connection is the Gateway's implementation of the Connection FSM
// (spec.md §4.1) and of session.Conn. One Connection exists per live
// WebSocket; its state machine is Handshaking -> Authorizing -> Active
// (with an Inactive sub-state) -> Closing -> Closed. The single
// reader-goroutine-owns-the-socket, writer-goroutine-drains-a-channel shape
// is grounded on the teacher's internal/gateway/listener.go handleWebSocket,
// itself close to other_examples/vtphan-switchboard's handleConnection.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/rpc"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

type fsmState int32

const (
	stateHandshaking fsmState = iota
	stateAuthorizing
	stateActive
	stateInactive
	stateClosing
	stateClosed
)

// Deps bundles the shared engines one Connection dispatches against.
type Deps struct {
	Pool        *session.Pool
	Topics      *pubsub.Index
	Lattice     *lattice.Engine
	Router      *rpc.Router
	InactiveDest backend.HttpDestination
}

// Connection is one client-facing WebSocket session.
type Connection struct {
	id   string
	ws   *websocket.Conn
	cfg  gatewaycfg.HandlerConfig
	deps Deps

	userID      atomic.String
	tangleToken atomic.String
	state       atomic.Int32
	lastActive  atomic.Int64 // unix nano

	outbound chan []byte

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection constructs a Connection wrapping ws. It does not start the
// read/write pumps; call Run for that.
func NewConnection(id string, ws *websocket.Conn, cfg gatewaycfg.HandlerConfig, deps Deps) *Connection {
	hw := cfg.OutboundHighWater
	if hw <= 0 {
		hw = 256
	}
	c := &Connection{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		deps:   deps,
		closed: make(chan struct{}),
	}
	c.outbound = make(chan []byte, hw)
	c.state.Store(int32(stateHandshaking))
	c.touch()
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID.Load() }

func (c *Connection) touch() { c.lastActive.Store(time.Now().UnixNano()) }

func (c *Connection) lastActivity() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Enqueue implements session.Conn. It never blocks: a full outbound queue
// is treated as the client being unable to keep up, and the connection
// closes itself with 4503 (spec.md §5) rather than apply backpressure that
// would stall an unrelated publisher.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.outbound <- frame:
		metrics.FramesSentTotal.WithLabelValues(frameKind(frame)).Inc()
		return true
	default:
		metrics.FramesDroppedTotal.Inc()
		c.Close(protocol.CloseOverflow, protocol.ReasonOverflow)
		return false
	}
}

func frameKind(frame []byte) string {
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err != nil || len(arr) == 0 {
		return "unknown"
	}
	var kind string
	if err := json.Unmarshal(arr[0], &kind); err != nil {
		return "unknown"
	}
	return kind
}

// Close requests the connection shut down with the given WebSocket close
// code. Safe to call multiple times and from multiple goroutines.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		deadline := time.Now().Add(2 * time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		if c.cancel != nil {
			c.cancel()
		}
		close(c.closed)
	})
}

// cleanup tears down every engine's record of this connection. The Lattice
// Engine keeps its own connID -> namespaces reverse index (populated only by
// Admin API attach calls, since lattice subscription is Admin-API-only), so
// UnsubscribeAll needs no namespace list from the caller.
func (c *Connection) cleanup() {
	c.deps.Topics.UnsubscribeAll(c.id)
	c.deps.Lattice.UnsubscribeAll(c.id)
	c.deps.Pool.Drop(c.id, c.UserID())
	logging.Sugar().Debugw("connection closed", "connection_id", c.id)
}
