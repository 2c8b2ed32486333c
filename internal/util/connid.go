// internal/util/connid.go
// ConnectionId allocation. Per the wire protocol, a connection-id is an
// opaque printable token that is globally unique within one Gateway
// instance's lifetime and is built from two parts: a node tag (identifies
// this Gateway instance, stable for the process lifetime) and a monotonic
// counter. Keeping it cheap matters: it is echoed in every authorizer call,
// every X-Request-Id header and every Admin API path segment.
package util

import (
	"fmt"

	"go.uber.org/atomic"
)

// ConnIDAllocator hands out process-unique ConnectionId values scoped under
// a single node tag. The zero value is not usable; construct with
// NewConnIDAllocator.
type ConnIDAllocator struct {
    nodeTag string
    counter atomic.Uint64
}

// NewConnIDAllocator returns an allocator stamping ids with nodeTag, which
// should be short and stable (e.g. a hostname slug or configured node name).
func NewConnIDAllocator(nodeTag string) *ConnIDAllocator {
    return &ConnIDAllocator{nodeTag: nodeTag}
}

// Next returns the next ConnectionId for this node. Safe for concurrent use.
func (a *ConnIDAllocator) Next() string {
    n := a.counter.Inc()
    return fmt.Sprintf("%s-%d", a.nodeTag, n)
}

// NodeTag returns the tag this allocator stamps ids with.
func (a *ConnIDAllocator) NodeTag() string { return a.nodeTag }
