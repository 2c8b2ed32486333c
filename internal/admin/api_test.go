// internal/admin/api_test.go
package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

type fakeConn struct {
	id, userID string
	frames     [][]byte
}

func (f *fakeConn) ID() string                      { return f.id }
func (f *fakeConn) UserID() string                  { return f.userID }
func (f *fakeConn) Enqueue(frame []byte) bool       { f.frames = append(f.frames, frame); return true }
func (f *fakeConn) Close(code int, reason string)   {}

func newTestAPI() (*API, *fakeConn) {
	pool := session.NewPool()
	conn := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(conn)
	return &API{Pool: pool, Topics: pubsub.NewIndex(), Lattice: lattice.NewEngine()}, conn
}

func mount(a *API) http.Handler {
	r := mux.NewRouter()
	a.Mount(r, "/v1")
	return r
}

func TestHandleSubscribeThenPublishDelivers(t *testing.T) {
	a, conn := newTestAPI()
	h := mount(a)

	req := httptest.NewRequest(http.MethodPut, "/v1/connection/gw1-1/subscriptions/chat.room1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("subscribe: expected 204, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/publish/chat.room1", strings.NewReader(`{"text":"hi"}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("publish: expected 204, got %d", w.Code)
	}
	if len(conn.frames) != 1 {
		t.Fatalf("expected conn to receive 1 frame, got %d", len(conn.frames))
	}
}

func TestHandleSubscribeUnknownConnIsNoop(t *testing.T) {
	a, _ := newTestAPI()
	h := mount(a)

	req := httptest.NewRequest(http.MethodPut, "/v1/connection/gw1-nope/subscriptions/chat.room1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unknown connection, got %d", w.Code)
	}
}

func TestHandlePublishInvalidTopicRejected(t *testing.T) {
	a, _ := newTestAPI()
	h := mount(a)

	req := httptest.NewRequest(http.MethodPost, "/v1/publish/.chat",strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid topic, got %d", w.Code)
	}
}

func TestHandleLatticeAttachDetachAndPut(t *testing.T) {
	a, conn := newTestAPI()
	h := mount(a)

	req := httptest.NewRequest(http.MethodPut, "/v1/connection/gw1-1/lattices/prefs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("attach: expected 204, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/lattice/prefs", strings.NewReader(`{"shared":{"ui":{"theme_register":"dark"}}}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("put: expected 204, got %d", w.Code)
	}
	if len(conn.frames) != 1 {
		t.Fatalf("expected attached conn to receive the delta, got %d frames", len(conn.frames))
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/connection/gw1-1/lattices/prefs", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("detach: expected 204, got %d", w.Code)
	}
}

func TestHandleLatticePutPrivateRequiresUserID(t *testing.T) {
	a, _ := newTestAPI()
	h := mount(a)

	req := httptest.NewRequest(http.MethodPost, "/v1/lattice/prefs", strings.NewReader(`{"private":{"":{"ui":{"theme_register":"x"}}}}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for private put without user_id, got %d", w.Code)
	}
}
