// internal/session/pool.go
// Package session implements the Session Pool (spec.md §4.2): the registry
// mapping ConnectionId -> live connection and UserId -> {ConnectionId}. It is
// sharded by hash(connection-id), mirroring the teacher's subscriber fan-out
// map in internal/gateway/server.go, to keep lock hold times short and avoid
// one busy user's traffic serializing unrelated connections.
//
// session.Conn is an interface, not a concrete type, so that the gateway
// package (which implements it) can depend on session without session
// depending back on gateway.
package session

import (
	"hash/fnv"
	"sync"
)

const numShards = 32

// Conn is the minimal surface the Session Pool, Topic Index, Lattice Engine
// and RPC Router need from a live connection. internal/gateway.Connection
// implements it.
type Conn interface {
	ID() string
	UserID() string
	// Enqueue appends frame to the connection's outbound queue. It returns
	// false if the queue was at its high-water mark; the connection closes
	// itself with 4503 in that case (spec.md §5), so callers need not retry.
	Enqueue(frame []byte) bool
	// Close requests the connection shut down with the given WebSocket close
	// code and reason.
	Close(code int, reason string)
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Pool is the process-wide Session Pool for one Gateway node.
type Pool struct {
	shards [numShards]*shard

	usersMu sync.RWMutex
	users   map[string]map[string]struct{} // userID -> set of connID

	// OnUserActive/OnUserInactive are optional hooks invoked when a user's
	// live-connection count transitions 0->1 / 1->0, wired by the server to
	// internal/lattice's swindon.user presence namespace. Left nil, they are
	// no-ops.
	OnUserActive   func(userID string)
	OnUserInactive func(userID string)
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	p := &Pool{users: make(map[string]map[string]struct{})}
	for i := range p.shards {
		p.shards[i] = &shard{conns: make(map[string]Conn)}
	}
	return p
}

func (p *Pool) shardFor(connID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return p.shards[h.Sum32()%numShards]
}

// Register adds conn to the pool. It does not attach a user; call AttachUser
// once the connection authorizes (spec.md: ConnectionId exists before the
// UserId is known).
func (p *Pool) Register(conn Conn) {
	sh := p.shardFor(conn.ID())
	sh.mu.Lock()
	sh.conns[conn.ID()] = conn
	sh.mu.Unlock()
}

// AttachUser associates connID with userID, firing OnUserActive the first
// time this user gains a live connection.
func (p *Pool) AttachUser(connID, userID string) {
	if userID == "" {
		return
	}
	p.usersMu.Lock()
	set, ok := p.users[userID]
	if !ok {
		set = make(map[string]struct{})
		p.users[userID] = set
	}
	wasEmpty := len(set) == 0
	set[connID] = struct{}{}
	p.usersMu.Unlock()

	if wasEmpty && p.OnUserActive != nil {
		p.OnUserActive(userID)
	}
}

// Drop removes connID from the pool and from its user's connection set,
// firing OnUserInactive if that was the user's last live connection.
func (p *Pool) Drop(connID, userID string) {
	sh := p.shardFor(connID)
	sh.mu.Lock()
	delete(sh.conns, connID)
	sh.mu.Unlock()

	if userID == "" {
		return
	}
	p.usersMu.Lock()
	set, ok := p.users[userID]
	becameEmpty := false
	if ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(p.users, userID)
			becameEmpty = true
		}
	}
	p.usersMu.Unlock()

	if becameEmpty && p.OnUserInactive != nil {
		p.OnUserInactive(userID)
	}
}

// Lookup returns the connection registered under connID, if any.
func (p *Pool) Lookup(connID string) (Conn, bool) {
	sh := p.shardFor(connID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[connID]
	return c, ok
}

// ConnsForUser returns a snapshot of the connections currently attached to
// userID. The slice is a copy; callers may range over it without holding
// any Pool lock.
func (p *Pool) ConnsForUser(userID string) []Conn {
	p.usersMu.RLock()
	set, ok := p.users[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	p.usersMu.RUnlock()
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := p.Lookup(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// IsUserActive reports whether userID currently has at least one live
// connection attached.
func (p *Pool) IsUserActive(userID string) bool {
	p.usersMu.RLock()
	defer p.usersMu.RUnlock()
	set, ok := p.users[userID]
	return ok && len(set) > 0
}

// ActiveConnectionCount returns the total number of registered connections.
func (p *Pool) ActiveConnectionCount() int {
	total := 0
	for _, sh := range p.shards {
		sh.mu.RLock()
		total += len(sh.conns)
		sh.mu.RUnlock()
	}
	return total
}

// ActiveUserCount returns the number of distinct users with a live
// connection.
func (p *Pool) ActiveUserCount() int {
	p.usersMu.RLock()
	defer p.usersMu.RUnlock()
	return len(p.users)
}
