// internal/gateway/server.go
// Server is the top-level façade wiring the Session Pool, Topic Index,
// Lattice Engine and per-handler RPC Routers to an HTTP mux, mirroring the
// teacher's original Router type here, which bundled a gRPC server and an
// HTTP listener behind one struct with ordered shutdown; this Server plays
// the same role for the WebSocket-terminating session layer instead.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/rpc"
	"github.com/swindon-rs/swindon-gateway/internal/session"
	"github.com/swindon-rs/swindon-gateway/internal/util"
)

// Server owns the real-time session layer for one Gateway node.
type Server struct {
	cfgStore *gatewaycfg.Store
	ids      *util.ConnIDAllocator
	dest     backend.HttpDestination

	pool    *session.Pool
	topics  *pubsub.Index
	lattice *lattice.Engine

	routersMu sync.RWMutex
	routers   map[string]*rpc.Router
}

// NewServer constructs a Server from cfgStore's current snapshot. dest is
// the HttpDestination used for both the authorizer and all RPC Router
// calls; production wiring is internal/backend.Client, tests typically pass
// a stub.
func NewServer(cfgStore *gatewaycfg.Store, dest backend.HttpDestination) *Server {
	cfg := cfgStore.Get()
	s := &Server{
		cfgStore: cfgStore,
		ids:      util.NewConnIDAllocator(cfg.NodeTag),
		dest:     dest,
		pool:     session.NewPool(),
		topics:   pubsub.NewIndex(),
		lattice:  lattice.NewEngine(),
		routers:  make(map[string]*rpc.Router),
	}
	s.pool.OnUserActive = func(userID string) { s.lattice.SetPresence(s.pool, userID, true) }
	s.pool.OnUserInactive = func(userID string) { s.lattice.SetPresence(s.pool, userID, false) }
	return s
}

// Pool, Topics and Lattice expose the shared engines to internal/admin and
// internal/replication, which are mounted alongside this Server but cannot
// import it directly (that would cycle back into gateway).
func (s *Server) Pool() *session.Pool      { return s.pool }
func (s *Server) Topics() *pubsub.Index    { return s.topics }
func (s *Server) Lattice() *lattice.Engine { return s.lattice }

func (s *Server) routerFor(handlerPath string) *rpc.Router {
	s.routersMu.RLock()
	r, ok := s.routers[handlerPath]
	s.routersMu.RUnlock()
	if ok {
		return r
	}

	cfg := s.cfgStore.Get()
	hcfg := cfg.Handlers[handlerPath]
	r = rpc.NewRouter(hcfg.MessageHandlers, s.dest)

	s.routersMu.Lock()
	s.routers[handlerPath] = r
	s.routersMu.Unlock()
	return r
}

// Mux builds the *http.ServeMux serving every configured WebSocket handler.
// The Admin API and /metrics are mounted separately by cmd/swindon-gateway,
// which owns the full route composition.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	cfg := s.cfgStore.Get()
	for path, hcfg := range cfg.Handlers {
		mux.HandleFunc(path, s.ServeHandler(path, hcfg, s.dest))
	}
	return mux
}

// Shutdown is a placeholder ordered-shutdown hook matching the teacher's
// Router.Shutdown shape; cmd/swindon-gateway extends it with the concrete
// *http.Server's Shutdown once constructed there.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Sugar().Info("gateway server shutting down")
	return nil
}
