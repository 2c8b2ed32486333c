// internal/protocol/frame.go
// Package protocol implements the wire-level JSON subprotocol described in
// spec.md §6.1: UTF-8 JSON-array frames exchanged over the client-facing
// WebSocket. It has no dependency on session/pubsub/lattice/rpc so that all
// of those packages can depend on it without creating import cycles.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/swindon-rs/swindon-gateway/internal/util"
)

// Subprotocol is the named WebSocket subprotocol; an empty string selects
// the legacy unnamed variant (spec.md §6.1).
const Subprotocol = "v1.swindon-lattice+json"

// Error kinds, spec.md §7.
const (
	ErrKindValidation = "validation_error"
	ErrKindHTTP       = "http_error"
	ErrKindData       = "data_error"
)

// WebSocket close codes, spec.md §6.1.
const (
	CloseInternal = 4500
	CloseOverflow = 4503
)

const (
	ReasonBackendError = "backend_error"
	ReasonOverflow     = "overflow"
)

var (
	ErrBadFrameShape  = errors.New("protocol: frame must be a 4-element JSON array")
	ErrMissingMeta    = errors.New("protocol: frame meta must be a JSON object")
	ErrMissingReqID   = errors.New("protocol: meta is missing request_id")
)

// ClientFrame is a decoded client->server invocation:
// [method, meta, args, kwargs].
type ClientFrame struct {
	Method string
	Meta   map[string]json.RawMessage
	Args   json.RawMessage
	Kwargs json.RawMessage
}

// ParseClientFrame decodes raw as a 4-element JSON array. It does not
// validate request_id; callers check that separately via RequestIDRaw /
// ValidateRequestID so that an invalid id can still be echoed verbatim in
// the resulting validation_error frame.
func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrameShape, err)
	}
	if len(arr) != 4 {
		return nil, ErrBadFrameShape
	}
	var method string
	if err := json.Unmarshal(arr[0], &method); err != nil {
		return nil, fmt.Errorf("protocol: method must be a string: %w", err)
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(arr[1], &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingMeta, err)
	}
	return &ClientFrame{Method: method, Meta: meta, Args: arr[2], Kwargs: arr[3]}, nil
}

// RequestIDRaw returns the verbatim request_id JSON value and whether it was
// present at all.
func (f *ClientFrame) RequestIDRaw() (json.RawMessage, bool) {
	raw, ok := f.Meta["request_id"]
	return raw, ok
}

// ValidateRequestID reports whether raw is a legal request id: a JSON
// integer >= 0, or a JSON string matching ^[A-Za-z0-9_-]{1,36}$.
func ValidateRequestID(raw json.RawMessage) bool {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n >= 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return util.ValidRequestIDString(s)
	}
	return false
}

// ActiveSeconds extracts meta.active from a client frame's meta as an
// integer number of seconds. The gateway's inactivity timers do not read it.
func (f *ClientFrame) ActiveSeconds() (int64, bool) {
	raw, ok := f.Meta["active"]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// --- server -> client frame constructors ----------------------------------

// HelloFrame builds ["hello", {}, authObject].
func HelloFrame(authObj json.RawMessage) ([]byte, error) {
	return json.Marshal([]any{"hello", map[string]any{}, authObj})
}

// MessageFrame builds ["message", {"topic": topic}, payload].
func MessageFrame(topic string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal([]any{"message", map[string]string{"topic": topic}, payload})
}

// LatticeFrame builds ["lattice", {"namespace": ns}, projection].
func LatticeFrame(ns string, projection json.RawMessage) ([]byte, error) {
	return json.Marshal([]any{"lattice", map[string]string{"namespace": ns}, projection})
}

// ResultFrame builds ["result", {"request_id": rid}, body].
func ResultFrame(rid json.RawMessage, body json.RawMessage) ([]byte, error) {
	meta := map[string]json.RawMessage{"request_id": rid}
	return json.Marshal([]any{"result", meta, body})
}

// ErrorFrame builds ["error", {"request_id": rid?, "error_kind": kind, ...extra}, detail].
// rid may be nil when no request_id could be determined (e.g. frame shape
// was too malformed to extract one); in that case the field is omitted.
func ErrorFrame(rid json.RawMessage, kind string, extra map[string]any, detail any) ([]byte, error) {
	meta := map[string]any{"error_kind": kind}
	for k, v := range extra {
		meta[k] = v
	}
	if rid != nil {
		meta["request_id"] = rid
	}
	return json.Marshal([]any{"error", meta, detail})
}

// FatalErrorFrame builds ["fatal_error", {"error_kind": kind, "http_error": status?}, body].
func FatalErrorFrame(kind string, httpStatus *int, body any) ([]byte, error) {
	meta := map[string]any{"error_kind": kind}
	if httpStatus != nil {
		meta["http_error"] = *httpStatus
	}
	return json.Marshal([]any{"fatal_error", meta, body})
}

// AuthCloseCode maps a backend auth-call HTTP status to the WebSocket close
// code used while still in the Authorizing state (spec.md §4.1, §7).
// Status 402, 405, and 5xx codes other than 500/503 are treated as
// unexpected/protocol failures and fold into CloseInternal rather than
// 4000+status, matching the enumerated exceptions in spec.md §7.
func AuthCloseCode(status int) int {
	if status == 402 || status == 405 {
		return CloseInternal
	}
	if status >= 500 && status <= 599 && status != 500 && status != 503 {
		return CloseInternal
	}
	if status >= 400 && status <= 599 {
		return 4000 + status
	}
	return CloseInternal
}

// InSessionHTTPErrorExposed reports whether status should be surfaced
// verbatim as the http_error field of an in-session error frame per
// spec.md §7 ("only 4xx-exposed (400, 401, 403, 404, 410) and 500/503 are
// surfaced verbatim"). Statuses outside that allow-list still produce an
// error frame (connections survive non-auth backend errors unconditionally),
// but are normalized to 500 so that clients see a small, stable enum.
func InSessionHTTPErrorExposed(status int) int {
	switch status {
	case 400, 401, 403, 404, 410, 500, 503:
		return status
	default:
		return 500
	}
}
