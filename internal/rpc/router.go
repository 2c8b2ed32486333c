// internal/rpc/router.go
// Package rpc implements the RPC Router (spec.md §4.5): it matches a client
// frame's method against a handler's glob routing table, dispatches an HTTP
// call to the resolved backend destination, and maps the response back to a
// result/error frame on the originating connection.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/metrics"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

// Router dispatches method calls for one HandlerConfig's routing table.
type Router struct {
	rules []gatewaycfg.MessageHandlerRule // pre-sorted, longest pattern first
	dest  backend.HttpDestination
}

// NewRouter builds a Router from rules, sorting so the most specific
// (longest, non-"*") pattern is tried first and "*" is tried last --
// spec.md §4.5's "longest-prefix-wins, '*' is the fallback".
func NewRouter(rules []gatewaycfg.MessageHandlerRule, dest backend.HttpDestination) *Router {
	sorted := make([]gatewaycfg.MessageHandlerRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Pattern == "*" {
			return false
		}
		if sorted[j].Pattern == "*" {
			return true
		}
		return len(sorted[i].Pattern) > len(sorted[j].Pattern)
	})
	return &Router{rules: sorted, dest: dest}
}

// match finds the first rule whose pattern matches method. A pattern
// ending in "*" matches as a prefix; a bare "*" matches everything;
// anything else must match method exactly.
func (r *Router) match(method string) (gatewaycfg.MessageHandlerRule, bool) {
	for _, rule := range r.rules {
		switch {
		case rule.Pattern == "*":
			return rule, true
		case strings.HasSuffix(rule.Pattern, "*"):
			if strings.HasPrefix(method, strings.TrimSuffix(rule.Pattern, "*")) {
				return rule, true
			}
		case rule.Pattern == method:
			return rule, true
		}
	}
	return gatewaycfg.MessageHandlerRule{}, false
}

// methodPath maps a dotted method name to its backend HTTP path, e.g.
// "chat.send_message" with PathPrefix "/v1" -> "/v1/chat/send_message".
func methodPath(prefix, method string) string {
	slug := strings.ReplaceAll(method, ".", "/")
	return path.Join("/", prefix, slug)
}

// Dispatch resolves frame's method against the router's table, calls the
// backend, and enqueues the resulting result/error frame on conn. It never
// returns an error to the connection loop: all failure modes are
// represented as a protocol frame per spec.md §7, since a single bad RPC
// call must not tear down the connection.
func (r *Router) Dispatch(ctx context.Context, conn session.Conn, tangleToken string, frame *protocol.ClientFrame) {
	rid, hasRid := frame.RequestIDRaw()
	if !hasRid || !protocol.ValidateRequestID(rid) {
		r.sendError(conn, rid, protocol.ErrKindValidation, nil, "invalid or missing request_id")
		metrics.RPCCallsTotal.WithLabelValues("validation_error").Inc()
		return
	}

	rule, ok := r.match(frame.Method)
	if !ok {
		r.sendError(conn, rid, protocol.ErrKindValidation, nil, fmt.Sprintf("no route for method %q", frame.Method))
		metrics.RPCCallsTotal.WithLabelValues("validation_error").Inc()
		return
	}

	body, err := json.Marshal([]json.RawMessage{metaJSON(frame), frame.Args, frame.Kwargs})
	if err != nil {
		r.sendError(conn, rid, protocol.ErrKindData, nil, "failed to encode call body")
		metrics.RPCCallsTotal.WithLabelValues("data_error").Inc()
		return
	}

	timeout := rule.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if tangleToken != "" {
		headers.Set("Authorization", "Tangle "+tangleToken)
	}
	ridStr := string(rid)
	var ridText string
	if json.Unmarshal(rid, &ridText) == nil {
		ridStr = ridText
	}
	headers.Set("X-Request-Id", conn.ID()+"-"+ridStr)

	resp, err := r.dest.Do(callCtx, backend.Request{
		Destination: rule.Destination,
		Method:      http.MethodPost,
		Path:        methodPath(rule.PathPrefix, frame.Method),
		Headers:     headers,
		Body:        body,
	})
	if err != nil {
		// A local timeout or connection failure never reached the backend at
		// all, so spec.md §4.5 point 5 treats it as an opaque 500 with no
		// detail body, not the backend's own (unobserved) status.
		r.sendError(conn, rid, protocol.ErrKindHTTP, map[string]any{"http_error": 500}, nil)
		metrics.RPCCallsTotal.WithLabelValues("http_error").Inc()
		return
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		frame, err := protocol.ResultFrame(rid, resp.Body)
		if err != nil {
			r.sendError(conn, rid, protocol.ErrKindData, nil, "malformed backend response")
			metrics.RPCCallsTotal.WithLabelValues("data_error").Inc()
			return
		}
		conn.Enqueue(frame)
		metrics.RPCCallsTotal.WithLabelValues("ok").Inc()
	default:
		status := protocol.InSessionHTTPErrorExposed(resp.StatusCode)
		var detail any
		if json.Valid(resp.Body) {
			detail = json.RawMessage(resp.Body)
		}
		r.sendError(conn, rid, protocol.ErrKindHTTP, map[string]any{"http_error": status}, detail)
		metrics.RPCCallsTotal.WithLabelValues("http_error").Inc()
	}
}

func (r *Router) sendError(conn session.Conn, rid json.RawMessage, kind string, extra map[string]any, detail any) {
	frame, err := protocol.ErrorFrame(rid, kind, extra, detail)
	if err != nil {
		return
	}
	conn.Enqueue(frame)
}

func metaJSON(frame *protocol.ClientFrame) json.RawMessage {
	raw, err := json.Marshal(frame.Meta)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
