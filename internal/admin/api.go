// internal/admin/api.go
// Package admin implements the Admin HTTP API (spec.md §4.6, §6.2): the
// trusted-side control surface backends use to push messages, manage a
// connection's topic subscriptions, and write into the Lattice Engine. It
// uses gorilla/mux for path-parameter and wildcard routing ({cid}, the
// dotted {topic}/{ns} names which may themselves contain slashes once
// path-form-encoded), a dependency sourced from the 2lar-b2 example repo
// rather than from the teacher, which never needed more than
// http.ServeMux's exact-match routes.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/logging"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/session"
	"github.com/swindon-rs/swindon-gateway/internal/util"
)

func nowNano() int64 { return time.Now().UnixNano() }

// API bundles the engines the Admin routes operate on.
type API struct {
	Pool    *session.Pool
	Topics  *pubsub.Index
	Lattice *lattice.Engine
}

// Mount registers every Admin route under prefix (typically "/v1") on r.
func (a *API) Mount(r *mux.Router, prefix string) {
	sub := r.PathPrefix(prefix).Subrouter()

	sub.HandleFunc("/connection/{cid}/subscriptions/{topic:.*}", a.handleSubscribe).Methods(http.MethodPut)
	sub.HandleFunc("/connection/{cid}/subscriptions/{topic:.*}", a.handleUnsubscribe).Methods(http.MethodDelete)
	sub.HandleFunc("/publish/{topic:.*}", a.handlePublish).Methods(http.MethodPost)
	sub.HandleFunc("/connection/{cid}/lattices/{ns:.*}", a.handleLatticeAttach).Methods(http.MethodPut)
	sub.HandleFunc("/connection/{cid}/lattices/{ns:.*}", a.handleLatticeDetach).Methods(http.MethodDelete)
	sub.HandleFunc("/lattice/{ns:.*}", a.handleLatticePut).Methods(http.MethodPost)
}

// handleSubscribe subscribes a connection to a topic. Topic subscription is
// Admin-API-only: backends use it to push a connection into a topic (e.g.
// in reply to a client's own RPC call, or a chat room invite).
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cid, topic := vars["cid"], util.DottedForm(vars["topic"])
	if !util.ValidName(topic) {
		http.Error(w, "invalid topic", http.StatusBadRequest)
		return
	}
	if _, ok := a.Pool.Lookup(cid); !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.Topics.Subscribe(cid, topic)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cid, topic := vars["cid"], util.DottedForm(vars["topic"])
	a.Topics.Unsubscribe(cid, topic)
	w.WriteHeader(http.StatusNoContent)
}

// handlePublish delivers the raw request body as the payload of a
// ["message", {"topic":...}, payload] frame to every current subscriber.
func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic := util.DottedForm(mux.Vars(r)["topic"])
	if !util.ValidName(topic) {
		http.Error(w, "invalid topic", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be valid JSON", http.StatusBadRequest)
		return
	}
	if err := a.Topics.Publish(a.Pool, topic, body); err != nil {
		logging.Sugar().Warnw("admin publish failed", "topic", topic, "err", err)
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLatticeAttach subscribes a connection to a lattice namespace (lattice
// subscription is Admin-API-only) and immediately pushes the connection's
// full current projection as one lattice frame; nothing is sent when the
// namespace holds no state visible to that connection yet.
func (a *API) handleLatticeAttach(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cid, ns := vars["cid"], util.DottedForm(vars["ns"])
	if !util.ValidName(ns) {
		http.Error(w, "invalid namespace", http.StatusBadRequest)
		return
	}
	conn, ok := a.Pool.Lookup(cid)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	proj := a.Lattice.Subscribe(cid, conn.UserID(), ns)
	if len(proj) > 0 {
		if payload, err := json.Marshal(proj); err == nil {
			if frame, err := protocol.LatticeFrame(ns, payload); err == nil {
				conn.Enqueue(frame)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLatticeDetach is the symmetric counterpart the original spec.md
// table omitted; added per SPEC_FULL.md's supplemented-features section
// since subscribe/unsubscribe is already symmetric for topics.
func (a *API) handleLatticeDetach(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cid, ns := vars["cid"], util.DottedForm(vars["ns"])
	a.Lattice.Unsubscribe(cid, ns)
	w.WriteHeader(http.StatusNoContent)
}

// latticePutRequest is the documented POST lattice/{ns…} body (spec.md
// §4.4, §6.2): a batch of shared and/or private register writes, keyed two
// levels deep (key -> register -> value, and for private, user -> key ->
// register -> value), merged atomically in one call.
type latticePutRequest struct {
	Shared  map[string]map[string]json.RawMessage            `json:"shared"`
	Private map[string]map[string]map[string]json.RawMessage `json:"private"`
}

// handleLatticePut lets a backend write directly into a lattice namespace
// without going through any one connection, e.g. to seed shared state
// before any client has subscribed. A single call may touch several keys
// and registers -- shared and private -- at once; affected subscribers
// receive one combined lattice delta frame per call rather than one per
// register (internal/lattice.Engine.PutBatch).
func (a *API) handleLatticePut(w http.ResponseWriter, r *http.Request) {
	ns := util.DottedForm(mux.Vars(r)["ns"])
	if !util.ValidName(ns) {
		http.Error(w, "invalid namespace", http.StatusBadRequest)
		return
	}
	var req latticePutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var entries []lattice.BatchEntry
	for key, regs := range req.Shared {
		for register, raw := range regs {
			v, err := registerValue(register, raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			entries = append(entries, lattice.BatchEntry{Key: key, Register: register, Value: v})
		}
	}
	for userID, keys := range req.Private {
		if userID == "" {
			http.Error(w, "private put requires a non-empty user id", http.StatusBadRequest)
			return
		}
		for key, regs := range keys {
			for register, raw := range regs {
				v, err := registerValue(register, raw)
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				entries = append(entries, lattice.BatchEntry{Key: key, Register: register, Private: true, UserID: userID, Value: v})
			}
		}
	}

	a.Lattice.PutBatch(a.Pool, ns, entries)
	w.WriteHeader(http.StatusNoContent)
}

// registerValue builds the Value a raw JSON write should merge as, per
// register's Kind (a "_counter" register is a bare number, a "_set"
// register is an array of strings to union in, anything else is an opaque
// LWW payload).
func registerValue(register string, raw json.RawMessage) (lattice.Value, error) {
	switch lattice.KindForRegister(register) {
	case lattice.KindCounter:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return lattice.Value{}, err
		}
		return lattice.Value{Kind: lattice.KindCounter, Counter: n}, nil
	case lattice.KindSet:
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return lattice.Value{}, err
		}
		set := make(map[string]struct{}, len(items))
		for _, it := range items {
			set[it] = struct{}{}
		}
		return lattice.Value{Kind: lattice.KindSet, Set: set}, nil
	default:
		return lattice.Value{Kind: lattice.KindRegister, Reg: &lattice.LWW{Timestamp: nowNano(), Payload: raw}}, nil
	}
}
