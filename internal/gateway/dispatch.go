// internal/gateway/dispatch.go
// Every client method call is routed through the handler's rpc.Router: per
// spec.md §4.3/§4.4/§6.2, topic and lattice subscription is Admin-API-only,
// so the Connection FSM itself never intercepts a method name before it
// reaches the router's message-handlers glob table.
package gateway

import (
	"context"

	"github.com/swindon-rs/swindon-gateway/internal/protocol"
)

func (c *Connection) dispatch(ctx context.Context, frame *protocol.ClientFrame) {
	c.deps.Router.Dispatch(ctx, c, c.tangleToken.Load(), frame)
}
