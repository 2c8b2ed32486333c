// internal/pubsub/topic_test.go
package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/swindon-rs/swindon-gateway/internal/session"
)

type fakeConn struct {
	id     string
	frames [][]byte
}

func (f *fakeConn) ID() string               { return f.id }
func (f *fakeConn) UserID() string           { return "" }
func (f *fakeConn) Enqueue(frame []byte) bool { f.frames = append(f.frames, frame); return true }
func (f *fakeConn) Close(code int, reason string) {}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	idx := NewIndex()
	pool := session.NewPool()
	conn := &fakeConn{id: "gw1-1"}
	pool.Register(conn)

	idx.Subscribe(conn.id, "chat.room1")
	if err := idx.Publish(pool, "chat.room1", json.RawMessage(`{"text":"hi"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.frames) != 1 {
		t.Fatalf("expected 1 delivered frame, got %d", len(conn.frames))
	}

	idx.Unsubscribe(conn.id, "chat.room1")
	if err := idx.Publish(pool, "chat.room1", json.RawMessage(`{"text":"bye"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.frames) != 1 {
		t.Fatalf("expected no new frame after unsubscribe, got %d total", len(conn.frames))
	}
}

func TestUnsubscribeAllOnDisconnect(t *testing.T) {
	idx := NewIndex()
	idx.Subscribe("c1", "topic.a")
	idx.Subscribe("c1", "topic.b")
	idx.UnsubscribeAll("c1")

	if len(idx.Subscribers("topic.a")) != 0 || len(idx.Subscribers("topic.b")) != 0 {
		t.Fatalf("expected no subscribers remaining after UnsubscribeAll")
	}
}

func TestLocalPublishHookNotCalledForRemoteDeliver(t *testing.T) {
	idx := NewIndex()
	pool := session.NewPool()
	called := false
	idx.OnLocalPublish = func(topic string, payload json.RawMessage) { called = true }

	if err := idx.DeliverRemote(pool, "topic.a", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("deliver remote: %v", err)
	}
	if called {
		t.Fatalf("DeliverRemote must not invoke OnLocalPublish")
	}

	if err := idx.Publish(pool, "topic.a", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !called {
		t.Fatalf("Publish must invoke OnLocalPublish")
	}
}
