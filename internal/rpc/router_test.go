// internal/rpc/router_test.go
package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swindon-rs/swindon-gateway/internal/backend"
	"github.com/swindon-rs/swindon-gateway/internal/gatewaycfg"
	"github.com/swindon-rs/swindon-gateway/internal/protocol"
)

type stubConn struct {
	frames [][]byte
}

func (s *stubConn) ID() string                      { return "gw1-1" }
func (s *stubConn) UserID() string                  { return "alice" }
func (s *stubConn) Enqueue(frame []byte) bool       { s.frames = append(s.frames, frame); return true }
func (s *stubConn) Close(code int, reason string)   {}

type stubDest struct {
	resp backend.Response
	err  error
	lastReq backend.Request
}

func (d *stubDest) Do(ctx context.Context, req backend.Request) (backend.Response, error) {
	d.lastReq = req
	return d.resp, d.err
}

func frame(method string, rid string) *protocol.ClientFrame {
	raw := []byte(`["` + method + `",{"request_id":"` + rid + `"},[],{}]`)
	f, err := protocol.ParseClientFrame(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func TestDispatchSuccessSendsResult(t *testing.T) {
	dest := &stubDest{resp: backend.Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}}
	r := NewRouter([]gatewaycfg.MessageHandlerRule{{Pattern: "*", Destination: "default"}}, dest)

	conn := &stubConn{}
	r.Dispatch(context.Background(), conn, "tok123", frame("chat.send_message", "r1"))

	if len(conn.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(conn.frames))
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(conn.frames[0], &arr); err != nil || len(arr) != 3 {
		t.Fatalf("bad frame shape: %s", conn.frames[0])
	}
	var kind string
	json.Unmarshal(arr[0], &kind)
	if kind != "result" {
		t.Fatalf("expected result frame, got %q", kind)
	}
	if dest.lastReq.Headers.Get("Authorization") != "Tangle tok123" {
		t.Fatalf("expected Tangle auth header, got %q", dest.lastReq.Headers.Get("Authorization"))
	}
}

func TestDispatchBackendErrorSendsErrorFrame(t *testing.T) {
	dest := &stubDest{resp: backend.Response{StatusCode: 404, Body: []byte(`"not found"`)}}
	r := NewRouter([]gatewaycfg.MessageHandlerRule{{Pattern: "*", Destination: "default"}}, dest)

	conn := &stubConn{}
	r.Dispatch(context.Background(), conn, "", frame("chat.send_message", "r2"))

	var arr []json.RawMessage
	json.Unmarshal(conn.frames[0], &arr)
	var kind string
	json.Unmarshal(arr[0], &kind)
	if kind != "error" {
		t.Fatalf("expected error frame, got %q", kind)
	}
}

func TestDispatchNoRouteIsValidationError(t *testing.T) {
	dest := &stubDest{}
	r := NewRouter([]gatewaycfg.MessageHandlerRule{{Pattern: "chat.*", Destination: "default"}}, dest)

	conn := &stubConn{}
	r.Dispatch(context.Background(), conn, "", frame("billing.charge", "r3"))

	var arr []json.RawMessage
	json.Unmarshal(conn.frames[0], &arr)
	var meta map[string]json.RawMessage
	json.Unmarshal(arr[1], &meta)
	var errKind string
	json.Unmarshal(meta["error_kind"], &errKind)
	if errKind != protocol.ErrKindValidation {
		t.Fatalf("expected validation_error, got %q", errKind)
	}
}

func TestLongestPrefixWinsOverWildcard(t *testing.T) {
	r := NewRouter([]gatewaycfg.MessageHandlerRule{
		{Pattern: "*", Destination: "fallback"},
		{Pattern: "chat.*", Destination: "chat"},
	}, &stubDest{})

	rule, ok := r.match("chat.send_message")
	if !ok || rule.Destination != "chat" {
		t.Fatalf("expected chat.* to win over *, got %+v ok=%v", rule, ok)
	}
}
