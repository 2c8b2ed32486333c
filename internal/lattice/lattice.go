// internal/lattice/lattice.go
// Engine implements the Lattice Engine (spec.md §4.4): within a namespace the
// state is Map<LatticeKey, Map<RegisterName, RegisterValue>>, sharded by
// namespace, with a shared partition visible to every subscriber and a
// private-per-user partition visible only to that user's own connections. A
// single lattice key (e.g. "room1") routinely carries more than one register
// at once -- a shared "last_message_counter" alongside a per-user private
// "last_seen_counter" -- so the store is keyed two levels deep rather than
// one Value per key. It reuses the Session Pool's sharded-map-plus-
// snapshot-then-push idiom from internal/pubsub so that merges never hold a
// lock while writing to a connection.
//
// The reserved "swindon.user" namespace carries presence: key = user id,
// register = "status_register", a LWW register recording {"online": bool}.
// internal/session.Pool's OnUserActive/OnUserInactive hooks are wired to
// SetPresence by the server, giving every namespace subscriber a live view
// of who else is connected without a separate presence protocol.
package lattice

import (
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

const numShards = 16

// PresenceNamespace is the reserved namespace carrying online/offline state.
const PresenceNamespace = "swindon.user"

// PresenceRegister is the register name spec.md §4.4 assigns to a presence
// key's LWW status value.
const PresenceRegister = "status_register"

type subscriber struct {
	userID string
}

type namespaceState struct {
	shared  map[string]map[string]*Value            // key -> register -> Value
	private map[string]map[string]map[string]*Value // userID -> key -> register -> Value
	subs    map[string]subscriber                    // connID -> subscriber
}

type shard struct {
	mu         sync.RWMutex
	namespaces map[string]*namespaceState
}

// Engine is the process-wide Lattice Engine for one Gateway node.
type Engine struct {
	shards [numShards]*shard

	// OnLocalChange, if set, is invoked after every locally-originated
	// register merge that changed visible state, so that internal/replication
	// can gossip the delta to peers. Replicator-originated merges (Merge) do
	// not re-trigger it, avoiding echo loops.
	OnLocalChange func(namespace, key, register string, private bool, userID string, v Value)

	connMu         sync.Mutex
	connNamespaces map[string]map[string]struct{} // connID -> namespaces subscribed to

	now func() time.Time
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	e := &Engine{now: time.Now, connNamespaces: make(map[string]map[string]struct{})}
	for i := range e.shards {
		e.shards[i] = &shard{namespaces: make(map[string]*namespaceState)}
	}
	return e
}

func (e *Engine) shardFor(namespace string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(namespace))
	return e.shards[h.Sum32()%numShards]
}

func newNamespaceState() *namespaceState {
	return &namespaceState{
		shared:  make(map[string]map[string]*Value),
		private: make(map[string]map[string]map[string]*Value),
		subs:    make(map[string]subscriber),
	}
}

func (e *Engine) stateFor(namespace string) *namespaceState {
	sh := e.shardFor(namespace)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ns, ok := sh.namespaces[namespace]
	if !ok {
		ns = newNamespaceState()
		sh.namespaces[namespace] = ns
	}
	return ns
}

// Projection is a full or partial lattice snapshot: key -> register -> value.
type Projection = map[string]map[string]Value

// putLocked merges incoming into key/register (shared, or userID's private
// partition) and returns the merged value and whether it changed. Caller
// must hold the owning shard's lock.
func putLocked(ns *namespaceState, key, register string, private bool, userID string, incoming Value) (Value, bool) {
	var cur *Value
	if private {
		if ns.private[userID] == nil {
			ns.private[userID] = make(map[string]map[string]*Value)
		}
		if ns.private[userID][key] == nil {
			ns.private[userID][key] = make(map[string]*Value)
		}
		cur = ns.private[userID][key][register]
	} else {
		if ns.shared[key] == nil {
			ns.shared[key] = make(map[string]*Value)
		}
		cur = ns.shared[key][register]
	}
	merged, changed := Merge(cur, incoming)
	if private {
		ns.private[userID][key][register] = &merged
	} else {
		ns.shared[key][register] = &merged
	}
	return merged, changed
}

// subscriberTargetsLocked returns the connIDs that should observe a change to
// a (private, userID) register: everyone for a shared register, only
// userID's own connections for a private one. Caller must hold the shard's
// lock.
func subscriberTargetsLocked(ns *namespaceState, private bool, userID string) []string {
	var targets []string
	for connID, sub := range ns.subs {
		if !private || sub.userID == userID {
			targets = append(targets, connID)
		}
	}
	return targets
}

func deliverDelta(pool *session.Pool, namespace string, delta Projection, targets []string) {
	if len(delta) == 0 || len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return
	}
	frame, err := protocol.LatticeFrame(namespace, payload)
	if err != nil {
		return
	}
	for _, connID := range targets {
		if conn, ok := pool.Lookup(connID); ok {
			conn.Enqueue(frame)
		}
	}
}

// Subscribe registers connID (owned by userID) as a subscriber of namespace
// and returns the connection's full current projection, to be sent as a
// single lattice frame (spec.md §4.4: subscribing always yields a full
// snapshot, never an empty delta).
func (e *Engine) Subscribe(connID, userID, namespace string) Projection {
	sh := e.shardFor(namespace)
	sh.mu.Lock()
	ns, ok := sh.namespaces[namespace]
	if !ok {
		ns = newNamespaceState()
		sh.namespaces[namespace] = ns
	}
	ns.subs[connID] = subscriber{userID: userID}
	proj := projectionLocked(ns, userID)
	sh.mu.Unlock()

	e.connMu.Lock()
	if e.connNamespaces[connID] == nil {
		e.connNamespaces[connID] = make(map[string]struct{})
	}
	e.connNamespaces[connID][namespace] = struct{}{}
	e.connMu.Unlock()

	return proj
}

// projectionLocked must be called with the owning shard's lock held. Private
// registers are overlaid onto shared ones key-by-key, since a single key
// frequently carries both at once.
func projectionLocked(ns *namespaceState, userID string) Projection {
	out := make(Projection, len(ns.shared))
	for key, regs := range ns.shared {
		m := make(map[string]Value, len(regs))
		for reg, v := range regs {
			m[reg] = *v
		}
		out[key] = m
	}
	if priv, ok := ns.private[userID]; ok {
		for key, regs := range priv {
			m := out[key]
			if m == nil {
				m = make(map[string]Value, len(regs))
				out[key] = m
			}
			for reg, v := range regs {
				m[reg] = *v
			}
		}
	}
	return out
}

// Unsubscribe removes connID from namespace's subscriber set.
func (e *Engine) Unsubscribe(connID, namespace string) {
	sh := e.shardFor(namespace)
	sh.mu.Lock()
	if ns, ok := sh.namespaces[namespace]; ok {
		delete(ns.subs, connID)
	}
	sh.mu.Unlock()

	e.connMu.Lock()
	if nss, ok := e.connNamespaces[connID]; ok {
		delete(nss, namespace)
		if len(nss) == 0 {
			delete(e.connNamespaces, connID)
		}
	}
	e.connMu.Unlock()
}

// UnsubscribeAll removes connID from every namespace it is currently
// subscribed to, using the Engine's own connID -> namespaces reverse index
// (mirroring pubsub.Index's reverse index) so that callers never need to
// track a connection's lattice subscriptions themselves.
func (e *Engine) UnsubscribeAll(connID string) {
	e.connMu.Lock()
	nss := make([]string, 0, len(e.connNamespaces[connID]))
	for ns := range e.connNamespaces[connID] {
		nss = append(nss, ns)
	}
	delete(e.connNamespaces, connID)
	e.connMu.Unlock()

	for _, ns := range nss {
		e.Unsubscribe(connID, ns)
	}
}

// Put merges incoming into one (key, register) slot -- shared, or the
// private partition of userID when private is true -- then pushes the
// merged value to every relevant subscriber as a lattice delta frame.
func (e *Engine) Put(pool *session.Pool, namespace, key, register string, private bool, userID string, incoming Value) (Value, error) {
	ns := e.stateFor(namespace)
	sh := e.shardFor(namespace)

	sh.mu.Lock()
	merged, changed := putLocked(ns, key, register, private, userID, incoming)
	targets := subscriberTargetsLocked(ns, private, userID)
	sh.mu.Unlock()

	metrics.LatticeMergesTotal.Inc()

	if changed {
		deliverDelta(pool, namespace, Projection{key: {register: merged}}, targets)
		if e.OnLocalChange != nil {
			e.OnLocalChange(namespace, key, register, private, userID, merged)
		}
	}
	return merged, nil
}

// BatchEntry is one (key, register) write within a single Admin API lattice
// POST, which may touch several keys and registers -- shared and private --
// atomically (spec.md §4.4, §8 e2e scenario 5: one call updates a shared and
// a private register under the same key, and affected subscribers see both
// in a single combined lattice frame).
type BatchEntry struct {
	Key      string
	Register string
	Private  bool
	UserID   string
	Value    Value
}

// PutBatch merges every entry under namespace's shard lock, then computes
// and sends one combined delta frame per affected subscriber (rather than
// one frame per register), so a client sees co-occurring shared and private
// changes to the same key together.
func (e *Engine) PutBatch(pool *session.Pool, namespace string, entries []BatchEntry) {
	if len(entries) == 0 {
		return
	}
	ns := e.stateFor(namespace)
	sh := e.shardFor(namespace)

	sh.mu.Lock()
	changedShared := make(Projection)
	changedPrivate := make(map[string]Projection) // userID -> key -> register -> value
	for _, ent := range entries {
		merged, changed := putLocked(ns, ent.Key, ent.Register, ent.Private, ent.UserID, ent.Value)
		if !changed {
			continue
		}
		if ent.Private {
			if changedPrivate[ent.UserID] == nil {
				changedPrivate[ent.UserID] = make(Projection)
			}
			if changedPrivate[ent.UserID][ent.Key] == nil {
				changedPrivate[ent.UserID][ent.Key] = make(map[string]Value)
			}
			changedPrivate[ent.UserID][ent.Key][ent.Register] = merged
		} else {
			if changedShared[ent.Key] == nil {
				changedShared[ent.Key] = make(map[string]Value)
			}
			changedShared[ent.Key][ent.Register] = merged
		}
	}

	deltas := make(map[string]Projection, len(ns.subs))
	for connID, sub := range ns.subs {
		d := mergeProjections(changedShared, changedPrivate[sub.userID])
		if len(d) > 0 {
			deltas[connID] = d
		}
	}
	sh.mu.Unlock()

	metrics.LatticeMergesTotal.Add(float64(len(entries)))

	for connID, d := range deltas {
		deliverDelta(pool, namespace, d, []string{connID})
	}

	if e.OnLocalChange == nil {
		return
	}
	for key, regs := range changedShared {
		for reg, v := range regs {
			e.OnLocalChange(namespace, key, reg, false, "", v)
		}
	}
	for userID, keys := range changedPrivate {
		for key, regs := range keys {
			for reg, v := range regs {
				e.OnLocalChange(namespace, key, reg, true, userID, v)
			}
		}
	}
}

func mergeProjections(a, b Projection) Projection {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(Projection, len(a))
	for key, regs := range a {
		m := make(map[string]Value, len(regs))
		for reg, v := range regs {
			m[reg] = v
		}
		out[key] = m
	}
	for key, regs := range b {
		m := out[key]
		if m == nil {
			m = make(map[string]Value, len(regs))
			out[key] = m
		}
		for reg, v := range regs {
			m[reg] = v
		}
	}
	return out
}

// Merge applies a remotely-originated delta to a single (key, register) slot
// (from internal/replication) without re-triggering OnLocalChange,
// preventing gossip echo loops.
func (e *Engine) Merge(pool *session.Pool, namespace, key, register string, private bool, userID string, incoming Value) {
	ns := e.stateFor(namespace)
	sh := e.shardFor(namespace)

	sh.mu.Lock()
	merged, changed := putLocked(ns, key, register, private, userID, incoming)
	targets := subscriberTargetsLocked(ns, private, userID)
	sh.mu.Unlock()

	metrics.LatticeMergesTotal.Inc()

	if !changed {
		return
	}
	deliverDelta(pool, namespace, Projection{key: {register: merged}}, targets)
}

// SetPresence sets the swindon.user presence register for userID. It is
// wired to session.Pool's OnUserActive/OnUserInactive hooks, so presence
// flips the instant a user's live-connection count crosses 0<->1, resolving
// spec.md's open question about when presence should emit: we choose "on
// state change only", since emitting on every resubscription would make a
// namespace with many subscribers spam identical presence deltas on
// reconnect storms.
func (e *Engine) SetPresence(pool *session.Pool, userID string, online bool) {
	payload, _ := json.Marshal(map[string]bool{"online": online})
	e.Put(pool, PresenceNamespace, userID, PresenceRegister, false, "", Value{
		Kind: KindRegister,
		Reg:  &LWW{Timestamp: e.now().UnixNano(), Payload: payload},
	})
}

// KeyCount returns the total number of distinct registers across all
// namespaces (shared + private).
func (e *Engine) KeyCount() int {
	total := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, ns := range sh.namespaces {
			for _, regs := range ns.shared {
				total += len(regs)
			}
			for _, keys := range ns.private {
				for _, regs := range keys {
					total += len(regs)
				}
			}
		}
		sh.mu.RUnlock()
	}
	return total
}
