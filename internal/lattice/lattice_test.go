// internal/lattice/lattice_test.go
package lattice

import (
	"encoding/json"
	"testing"

	"github.com/swindon-rs/swindon-gateway/internal/session"
)

type fakeConn struct {
	id, userID string
	frames     [][]byte
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }
func (f *fakeConn) Enqueue(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}
func (f *fakeConn) Close(code int, reason string) {}

func TestSubscribeReturnsFullProjection(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	conn := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(conn)

	payload, _ := json.Marshal(5)
	e.Put(pool, "chat", "room1", "topic_register", false, "", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1, Payload: payload}})

	proj := e.Subscribe(conn.id, conn.userID, "chat")
	regs, ok := proj["room1"]
	if !ok {
		t.Fatalf("expected subscribe to return existing shared key, got %+v", proj)
	}
	if _, ok := regs["topic_register"]; !ok {
		t.Fatalf("expected room1 to carry topic_register, got %+v", regs)
	}
}

func TestMultipleRegistersCoexistUnderOneKey(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	alice := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(alice)
	e.Subscribe(alice.id, "alice", "chat")

	e.Put(pool, "chat", "room1", "last_message_counter", false, "", Value{Kind: KindCounter, Counter: 1})
	e.Put(pool, "chat", "room1", "last_seen_counter", true, "alice", Value{Kind: KindCounter, Counter: 1})

	proj := e.Subscribe(alice.id, "alice", "chat")
	regs := proj["room1"]
	if len(regs) != 2 {
		t.Fatalf("expected room1 to carry both shared and private registers at once, got %+v", regs)
	}
	if _, ok := regs["last_message_counter"]; !ok {
		t.Fatalf("expected shared register to survive alongside private one, got %+v", regs)
	}
	if _, ok := regs["last_seen_counter"]; !ok {
		t.Fatalf("expected private register to survive alongside shared one, got %+v", regs)
	}
}

func TestPrivatePartitionIsolated(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	alice := &fakeConn{id: "gw1-1", userID: "alice"}
	bob := &fakeConn{id: "gw1-2", userID: "bob"}
	pool.Register(alice)
	pool.Register(bob)

	e.Subscribe(alice.id, "alice", "prefs")
	e.Subscribe(bob.id, "bob", "prefs")

	val, _ := json.Marshal("dark")
	e.Put(pool, "prefs", "ui", "theme_register", true, "alice", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1, Payload: val}})

	if len(alice.frames) != 1 {
		t.Fatalf("expected alice to receive her own private delta, got %d frames", len(alice.frames))
	}
	if len(bob.frames) != 0 {
		t.Fatalf("expected bob to receive nothing from alice's private partition, got %d frames", len(bob.frames))
	}
}

func TestPresenceFlipsOnUserPoolHooks(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	pool.OnUserActive = func(userID string) { e.SetPresence(pool, userID, true) }
	pool.OnUserInactive = func(userID string) { e.SetPresence(pool, userID, false) }

	watcher := &fakeConn{id: "gw1-watcher", userID: "watcher"}
	pool.Register(watcher)
	e.Subscribe(watcher.id, watcher.userID, PresenceNamespace)

	conn := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(conn)
	pool.AttachUser(conn.id, "alice")

	if len(watcher.frames) != 1 {
		t.Fatalf("expected watcher to see alice's presence come online, got %d frames", len(watcher.frames))
	}

	pool.Drop(conn.id, "alice")
	if len(watcher.frames) != 2 {
		t.Fatalf("expected watcher to see alice's presence go offline, got %d frames", len(watcher.frames))
	}
}

func TestOnLocalChangeNotTriggeredByMerge(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	called := 0
	e.OnLocalChange = func(namespace, key, register string, private bool, userID string, v Value) { called++ }

	val, _ := json.Marshal(1)
	e.Merge(pool, "ns", "k", "register", false, "", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1, Payload: val}})
	if called != 0 {
		t.Fatalf("Merge must not invoke OnLocalChange, got %d calls", called)
	}

	e.Put(pool, "ns", "k2", "register", false, "", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1, Payload: val}})
	if called != 1 {
		t.Fatalf("Put must invoke OnLocalChange exactly once, got %d calls", called)
	}
}

func TestUnsubscribeAllUsesEngineOwnedReverseIndex(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	conn := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(conn)

	e.Subscribe(conn.id, "alice", "chat")
	e.Subscribe(conn.id, "alice", "prefs")

	e.UnsubscribeAll(conn.id)

	e.Put(pool, "chat", "room1", "topic_register", false, "", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1}})
	e.Put(pool, "prefs", "ui", "theme_register", false, "", Value{Kind: KindRegister, Reg: &LWW{Timestamp: 1}})

	if len(conn.frames) != 0 {
		t.Fatalf("expected no frames after UnsubscribeAll dropped every namespace, got %d", len(conn.frames))
	}
}

func TestPutBatchSendsOneCombinedFramePerSubscriber(t *testing.T) {
	e := NewEngine()
	pool := session.NewPool()
	alice := &fakeConn{id: "gw1-1", userID: "alice"}
	pool.Register(alice)
	e.Subscribe(alice.id, "alice", "chat")

	e.PutBatch(pool, "chat", []BatchEntry{
		{Key: "room1", Register: "last_message_counter", Value: Value{Kind: KindCounter, Counter: 1}},
		{Key: "room1", Register: "last_seen_counter", Private: true, UserID: "alice", Value: Value{Kind: KindCounter, Counter: 1}},
	})

	if len(alice.frames) != 1 {
		t.Fatalf("expected one combined lattice frame for the batch, got %d", len(alice.frames))
	}
}
