// internal/gatewaycfg/store.go
// Store holds the live, hot-reloadable Config. It follows the same
// atomic-pointer idiom as internal/logging: readers never block on a writer
// mid-reload, and a reload is a single atomic pointer swap so in-flight
// requests keep seeing a consistent Config.
package gatewaycfg

import "go.uber.org/atomic"

// Store publishes an immutable *Config snapshot to concurrent readers.
type Store struct {
    cur atomic.Pointer[Config]
}

// NewStore returns a Store initialised with cfg.
func NewStore(cfg Config) *Store {
    s := &Store{}
    s.cur.Store(&cfg)
    return s
}

// Get returns the current Config snapshot. Safe for concurrent use.
func (s *Store) Get() Config {
    return *s.cur.Load()
}

// Swap atomically replaces the live Config, e.g. after a SIGHUP reload.
func (s *Store) Swap(cfg Config) {
    s.cur.Store(&cfg)
}

// HandlerFor returns the HandlerConfig mounted at path and whether it exists.
func (s *Store) HandlerFor(path string) (HandlerConfig, bool) {
    cfg := s.Get()
    h, ok := cfg.Handlers[path]
    return h, ok
}
