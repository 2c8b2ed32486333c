// internal/lattice/register.go
// Register merge semantics for the Lattice Engine (spec.md §4.4). A
// register's merge rule is selected by its name suffix:
//
//	foo_counter  -> grow-only max (PN-counter restricted to monotone puts)
//	foo_set      -> grow-only union
//	anything else (including foo_register) -> last-writer-wins by
//	                (timestamp, canonical-JSON payload) tuple
//
// All three rules are commutative, associative and idempotent, which is
// exactly what lets the Replicator merge deltas arriving in any order
// (spec.md §8 P4). The LWW tie-break compares canonicalized JSON bytes
// rather than raw bytes so that two structurally-equal payloads that
// happened to serialize with different key order or whitespace still
// converge to the same winner across nodes -- this resolves spec.md's
// open question about tie-breaking when payloads are structurally equal
// but serialize differently.
package lattice

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Kind identifies which merge rule applies to a register.
type Kind int

const (
	KindRegister Kind = iota
	KindCounter
	KindSet
)

// KindForRegister derives the merge Kind from a register name's suffix
// (spec.md §4.4: the suffix is on the register name, not the lattice key --
// a key such as "room1" may hold both a "last_message_counter" register and
// a "last_seen_counter" register at once).
func KindForRegister(register string) Kind {
	switch {
	case strings.HasSuffix(register, "_counter"):
		return KindCounter
	case strings.HasSuffix(register, "_set"):
		return KindSet
	default:
		return KindRegister
	}
}

// LWW is a last-writer-wins tuple: a timestamp (logical or wall-clock,
// caller's choice) plus an opaque JSON payload.
type LWW struct {
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"value"`
}

// Value is the merged state of one register under a lattice key. Exactly one of the three
// fields is meaningful, selected by Kind.
type Value struct {
	Kind    Kind
	Counter uint64
	Reg     *LWW
	Set     map[string]struct{}
}

// canonicalize re-marshals raw through a generic interface{} so that two
// structurally identical JSON documents compare equal regardless of key
// order or whitespace.
func canonicalize(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// MergeCounter implements the grow-only max rule.
func MergeCounter(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}

// MergeLWW implements last-writer-wins with a deterministic tie-break.
func MergeLWW(a, b *LWW) *LWW {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Timestamp > a.Timestamp {
		return b
	}
	if b.Timestamp < a.Timestamp {
		return a
	}
	if bytes.Compare(canonicalize(b.Payload), canonicalize(a.Payload)) > 0 {
		return b
	}
	return a
}

// MergeSet implements grow-only union. The returned map is a fresh copy;
// neither input is mutated.
func MergeSet(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// Merge combines cur (possibly nil, meaning "key absent") with incoming,
// which must share the same Kind as cur once cur is non-nil. It returns the
// merged Value and whether the merge changed the externally-visible state
// (used to decide whether a delta is worth sending to subscribers).
func Merge(cur *Value, incoming Value) (Value, bool) {
	if cur == nil {
		return incoming, true
	}
	switch incoming.Kind {
	case KindCounter:
		merged := MergeCounter(cur.Counter, incoming.Counter)
		return Value{Kind: KindCounter, Counter: merged}, merged != cur.Counter
	case KindSet:
		merged := MergeSet(cur.Set, incoming.Set)
		changed := len(merged) != len(cur.Set)
		return Value{Kind: KindSet, Set: merged}, changed
	default:
		merged := MergeLWW(cur.Reg, incoming.Reg)
		changed := merged != cur.Reg
		return Value{Kind: KindRegister, Reg: merged}, changed
	}
}

// MarshalJSON renders a Value the way it appears in a lattice projection
// frame: a counter as a bare number, a set as a sorted array, and a
// register as its raw payload.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindCounter:
		return json.Marshal(v.Counter)
	case KindSet:
		items := make([]string, 0, len(v.Set))
		for k := range v.Set {
			items = append(items, k)
		}
		sort.Strings(items)
		return json.Marshal(items)
	default:
		if v.Reg == nil {
			return []byte("null"), nil
		}
		return v.Reg.Payload, nil
	}
}
