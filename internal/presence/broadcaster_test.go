package presence

import (
	"errors"
	"sync"
	"testing"

	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

type recordedEvent struct {
	event string
	data  interface{}
}

type stubSession struct {
	id     string
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

func (s *stubSession) SessionID() string { return s.id }

func (s *stubSession) WriteEvent(event string, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("session backpressure")
	}
	s.events = append(s.events, recordedEvent{event: event, data: data})
	return nil
}

func (s *stubSession) UserID() string                   { return "" }
func (s *stubSession) Username() string                 { return "" }
func (s *stubSession) IsIdentified() bool               { return false }
func (s *stubSession) Identify(userID, username string) {}
func (s *stubSession) ClearIdentity()                   {}
func (s *stubSession) Close() error                     { return nil }

func (s *stubSession) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func TestBroadcaster_AnnounceOnlineReachesAllSessions(t *testing.T) {
	registry := session.NewRegistry()
	a := &stubSession{id: "s1"}
	b := &stubSession{id: "s2"}
	registry.Add(a)
	registry.Add(b)
	registry.Identify("s1", "alice")

	broadcaster := NewBroadcaster(registry)
	broadcaster.AnnounceOnline("alice", "Alice")

	for _, conn := range []*stubSession{a, b} {
		events := conn.recorded()
		if len(events) != 1 {
			t.Fatalf("session %s received %d events, want 1", conn.id, len(events))
		}
		if events[0].event != types.EventUserOnline {
			t.Errorf("session %s event = %q, want %q", conn.id, events[0].event, types.EventUserOnline)
		}
		payload, ok := events[0].data.(types.UserOnlinePayload)
		if !ok {
			t.Fatalf("session %s payload type %T", conn.id, events[0].data)
		}
		if payload.UserID != "alice" || payload.Username != "Alice" {
			t.Errorf("session %s payload = %+v", conn.id, payload)
		}
	}
}

func TestBroadcaster_AnnounceOffline(t *testing.T) {
	registry := session.NewRegistry()
	a := &stubSession{id: "s1"}
	registry.Add(a)

	NewBroadcaster(registry).AnnounceOffline("bob")

	events := a.recorded()
	if len(events) != 1 || events[0].event != types.EventUserOffline {
		t.Fatalf("events = %v", events)
	}
	if payload := events[0].data.(types.UserOfflinePayload); payload.UserID != "bob" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestBroadcaster_FailedSessionDoesNotBlockOthers(t *testing.T) {
	registry := session.NewRegistry()
	broken := &stubSession{id: "s1", fail: true}
	healthy := &stubSession{id: "s2"}
	registry.Add(broken)
	registry.Add(healthy)

	NewBroadcaster(registry).Broadcast(types.EventTyping, types.TypingPayload{
		SenderID: "alice", ReceiverID: "bob", IsTyping: true,
	})

	if len(healthy.recorded()) != 1 {
		t.Error("healthy session should still receive the event")
	}
}
