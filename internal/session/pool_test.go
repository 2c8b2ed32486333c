// internal/session/pool_test.go
package session

import "testing"

type fakeConn struct {
	id     string
	userID string
	frames [][]byte
	closed bool
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }
func (f *fakeConn) Enqueue(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}
func (f *fakeConn) Close(code int, reason string) { f.closed = true }

func TestPoolRegisterLookupDrop(t *testing.T) {
	p := NewPool()
	c := &fakeConn{id: "gw1-1", userID: "alice"}
	p.Register(c)
	p.AttachUser(c.id, c.userID)

	got, ok := p.Lookup(c.id)
	if !ok || got != c {
		t.Fatalf("expected to find registered connection")
	}
	if !p.IsUserActive("alice") {
		t.Fatalf("expected alice to be active")
	}

	p.Drop(c.id, c.userID)
	if _, ok := p.Lookup(c.id); ok {
		t.Fatalf("expected connection to be gone after Drop")
	}
	if p.IsUserActive("alice") {
		t.Fatalf("expected alice to be inactive after last connection dropped")
	}
}

func TestPoolUserActiveHooksFireOnlyOnTransition(t *testing.T) {
	p := NewPool()
	activeCount, inactiveCount := 0, 0
	p.OnUserActive = func(userID string) { activeCount++ }
	p.OnUserInactive = func(userID string) { inactiveCount++ }

	c1 := &fakeConn{id: "gw1-1", userID: "bob"}
	c2 := &fakeConn{id: "gw1-2", userID: "bob"}
	p.Register(c1)
	p.Register(c2)
	p.AttachUser(c1.id, "bob")
	p.AttachUser(c2.id, "bob")
	if activeCount != 1 {
		t.Fatalf("expected exactly one active transition, got %d", activeCount)
	}

	p.Drop(c1.id, "bob")
	if inactiveCount != 0 {
		t.Fatalf("expected no inactive transition while one connection remains")
	}
	p.Drop(c2.id, "bob")
	if inactiveCount != 1 {
		t.Fatalf("expected exactly one inactive transition, got %d", inactiveCount)
	}
}

func TestConnsForUser(t *testing.T) {
	p := NewPool()
	c1 := &fakeConn{id: "gw1-1", userID: "carl"}
	c2 := &fakeConn{id: "gw1-2", userID: "carl"}
	p.Register(c1)
	p.Register(c2)
	p.AttachUser(c1.id, "carl")
	p.AttachUser(c2.id, "carl")

	conns := p.ConnsForUser("carl")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for carl, got %d", len(conns))
	}
}
