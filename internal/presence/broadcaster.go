package presence

import (
	"log"

	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

// Broadcaster fans events out to every live session.
// ARCHITECTURAL DISCOVERY: Fan-out is broadcast-to-all, echo included; the
// originating session receives its own presence and typing events
type Broadcaster struct {
	registry *session.Registry
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *session.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// AnnounceOnline tells every session a user came online.
func (b *Broadcaster) AnnounceOnline(userID, username string) {
	b.Broadcast(types.EventUserOnline, types.UserOnlinePayload{
		UserID:   userID,
		Username: username,
	})
}

// AnnounceOffline tells every session a user went offline.
func (b *Broadcaster) AnnounceOffline(userID string) {
	b.Broadcast(types.EventUserOffline, types.UserOfflinePayload{
		UserID: userID,
	})
}

// Broadcast sends an event to every live session.
// FUNCTIONAL DISCOVERY: Per-destination failures are logged and swallowed;
// one dead session never blocks delivery to the rest
func (b *Broadcaster) Broadcast(event string, data interface{}) {
	for _, conn := range b.registry.Snapshot() {
		if err := conn.WriteEvent(event, data); err != nil {
			log.Printf("Broadcast of %s to session %s failed: %v", event, conn.SessionID(), err)
		}
	}
}
