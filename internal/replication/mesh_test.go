// internal/replication/mesh_test.go
package replication

import (
	"encoding/json"
	"testing"

	"github.com/swindon-rs/swindon-gateway/internal/lattice"
	"github.com/swindon-rs/swindon-gateway/internal/pubsub"
	"github.com/swindon-rs/swindon-gateway/internal/session"
)

type fakeConn struct {
	id, userID string
	frames     [][]byte
}

func (f *fakeConn) ID() string                    { return f.id }
func (f *fakeConn) UserID() string                { return f.userID }
func (f *fakeConn) Enqueue(frame []byte) bool     { f.frames = append(f.frames, frame); return true }
func (f *fakeConn) Close(code int, reason string) {}

func newTestMesh() (*Mesh, *session.Pool, *fakeConn) {
	pool := session.NewPool()
	conn := &fakeConn{id: "gw2-1"}
	pool.Register(conn)
	topics := pubsub.NewIndex()
	topics.Subscribe(conn.id, "chat.room1")
	engine := lattice.NewEngine()
	m := NewMesh("node-a", nil, "", pool, topics, engine)
	return m, pool, conn
}

func TestShouldApplyDedupsByOriginTopicSeq(t *testing.T) {
	m, _, _ := newTestMesh()

	if !m.shouldApply("node-b", "chat.room1", 1) {
		t.Fatalf("expected first seq to apply")
	}
	if m.shouldApply("node-b", "chat.room1", 1) {
		t.Fatalf("expected duplicate seq to be rejected")
	}
	if !m.shouldApply("node-b", "chat.room1", 2) {
		t.Fatalf("expected higher seq to apply")
	}
	if !m.shouldApply("node-b", "chat.room2", 1) {
		t.Fatalf("expected a distinct topic to track its own sequence")
	}
}

func TestHandleFramePublishDeliversAndDedups(t *testing.T) {
	m, _, conn := newTestMesh()

	frame := publishFrame("node-b", 1, "chat.room1", json.RawMessage(`{"text":"hi"}`))
	m.handleFrame("node-b", frame)
	if len(conn.frames) != 1 {
		t.Fatalf("expected remote publish to deliver to local subscriber, got %d frames", len(conn.frames))
	}

	m.handleFrame("node-b", frame)
	if len(conn.frames) != 1 {
		t.Fatalf("expected duplicate seq to be dropped, still want 1 frame, got %d", len(conn.frames))
	}
}

func TestHandleFrameLatticeDeltaMerges(t *testing.T) {
	m, pool, _ := newTestMesh()
	conn := &fakeConn{id: "gw2-2"}
	pool.Register(conn)
	m.lattice.Subscribe(conn.id, "", "prefs")

	val, _ := json.Marshal("dark")
	frame := latticeDeltaFrame("node-b", "prefs", "room1", "theme_register", false, "", val)
	m.handleFrame("node-b", frame)

	if len(conn.frames) != 1 {
		t.Fatalf("expected lattice delta merge to push to local subscriber, got %d frames", len(conn.frames))
	}
}

func TestKindOfRejectsFrameWithoutKind(t *testing.T) {
	s := helloFrame("node-a", nil, nil)
	delete(s.Fields, "kind")
	if _, err := kindOf(s); err == nil {
		t.Fatalf("expected error for frame missing kind")
	}
}

func TestStringsFieldRoundTrips(t *testing.T) {
	s := helloFrame("node-a", []string{"chat.room1", "chat.room2"}, nil)
	got := stringsField(s, "topics")
	if len(got) != 2 || got[0] != "chat.room1" || got[1] != "chat.room2" {
		t.Fatalf("unexpected topics round-trip: %+v", got)
	}
}
