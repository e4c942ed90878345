package session

import (
	"fmt"
	"sync"
	"testing"
)

// fakeSession is a minimal ClientSession for registry tests.
type fakeSession struct {
	id       string
	mu       sync.Mutex
	userID   string
	username string
	events   []string
	closed   bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (f *fakeSession) SessionID() string { return f.id }

func (f *fakeSession) WriteEvent(event string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSession) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *fakeSession) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

func (f *fakeSession) IsIdentified() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID != ""
}

func (f *fakeSession) Identify(userID, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = userID
	f.username = username
}

func (f *fakeSession) ClearIdentity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = ""
	f.username = ""
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRegistry_AddAndResolve(t *testing.T) {
	registry := NewRegistry()
	conn := newFakeSession("s1")

	registry.Add(conn)
	registry.Identify("s1", "alice")

	resolved, ok := registry.Resolve("alice")
	if !ok {
		t.Fatal("expected alice to resolve")
	}
	if resolved.SessionID() != "s1" {
		t.Errorf("resolved session = %q, want s1", resolved.SessionID())
	}

	if _, ok := registry.Resolve("bob"); ok {
		t.Error("bob should not resolve")
	}
}

func TestRegistry_ReidentificationEvictsPriorSession(t *testing.T) {
	registry := NewRegistry()
	old := newFakeSession("s-old")
	replacement := newFakeSession("s-new")

	registry.Add(old)
	registry.Identify("s-old", "alice")
	registry.Add(replacement)
	registry.Identify("s-new", "alice")

	resolved, ok := registry.Resolve("alice")
	if !ok || resolved.SessionID() != "s-new" {
		t.Fatal("alice should resolve to the newer session")
	}

	// The superseded session's disconnect must not clear alice's presence
	if userID, wasUser := registry.Remove("s-old"); wasUser {
		t.Errorf("stale session removal reported user %q, want none", userID)
	}

	if _, ok := registry.Resolve("alice"); !ok {
		t.Error("alice must still resolve after stale session removal")
	}
}

func TestRegistry_RemoveReturnsUser(t *testing.T) {
	registry := NewRegistry()
	conn := newFakeSession("s1")

	registry.Add(conn)
	registry.Identify("s1", "alice")

	userID, wasUser := registry.Remove("s1")
	if !wasUser || userID != "alice" {
		t.Fatalf("Remove = (%q, %v), want (alice, true)", userID, wasUser)
	}

	if _, ok := registry.Resolve("alice"); ok {
		t.Error("alice should no longer resolve")
	}
	if registry.Count() != 0 {
		t.Errorf("count = %d, want 0", registry.Count())
	}
}

func TestRegistry_RemoveAnonymousSession(t *testing.T) {
	registry := NewRegistry()
	conn := newFakeSession("s1")

	registry.Add(conn)

	if userID, wasUser := registry.Remove("s1"); wasUser {
		t.Errorf("anonymous removal reported user %q", userID)
	}

	// Removing twice is a no-op
	if _, wasUser := registry.Remove("s1"); wasUser {
		t.Error("repeated removal should report no user")
	}
}

func TestRegistry_IdentifyUnknownSessionIgnored(t *testing.T) {
	registry := NewRegistry()

	registry.Identify("ghost", "alice")

	if _, ok := registry.Resolve("alice"); ok {
		t.Error("identify on unknown session must not create a mapping")
	}
}

func TestRegistry_SnapshotIncludesAnonymous(t *testing.T) {
	registry := NewRegistry()
	registry.Add(newFakeSession("s1"))
	registry.Add(newFakeSession("s2"))
	registry.Identify("s1", "alice")

	snapshot := registry.Snapshot()
	if len(snapshot) != 2 {
		t.Errorf("snapshot size = %d, want 2 (fan-out includes anonymous sessions)", len(snapshot))
	}

	online := registry.OnlineUsers()
	if len(online) != 1 || online[0] != "alice" {
		t.Errorf("online users = %v, want [alice]", online)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("s%d", i)
			userID := fmt.Sprintf("user%d", i)
			registry.Add(newFakeSession(sessionID))
			registry.Identify(sessionID, userID)
			registry.Resolve(userID)
			registry.Snapshot()
		}(i)
	}
	wg.Wait()

	if registry.Count() != n {
		t.Errorf("count = %d, want %d", registry.Count(), n)
	}
	if len(registry.OnlineUsers()) != n {
		t.Errorf("online users = %d, want %d", len(registry.OnlineUsers()), n)
	}
}
