package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/config"
	"chatrelay/internal/presence"
	"chatrelay/internal/relay"
	"chatrelay/internal/session"
	"chatrelay/pkg/types"
)

// Handler upgrades HTTP requests and runs the per-session read loop.
type Handler struct {
	registry    *session.Registry
	broadcaster *presence.Broadcaster
	relay       *relay.Relay
	config      *config.WebSocketConfig
	upgrader    websocket.Upgrader
}

// NewHandler creates a websocket handler.
func NewHandler(registry *session.Registry, broadcaster *presence.Broadcaster, messageRelay *relay.Relay, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		registry:    registry,
		broadcaster: broadcaster,
		relay:       messageRelay,
		config:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.BufferSize,
			WriteBufferSize: cfg.BufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients connect from arbitrary origins
				return true
			},
		},
	}
}

// ServeHTTP upgrades the connection and runs its lifecycle to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConn(ws, h.config.BufferSize, h.config.PingInterval, h.config.WriteTimeout)
	h.registry.Add(conn)

	// FUNCTIONAL DISCOVERY: connection_established is the first frame on
	// every session and carries the server-assigned session ID
	if err := conn.WriteEvent(types.EventConnectionEstablished, types.ConnectionEstablishedPayload{
		SessionID: conn.SessionID(),
	}); err != nil {
		log.Printf("Failed to send connection_established to %s: %v", conn.SessionID(), err)
	}

	h.readPump(r.Context(), ws, conn)
}

// readPump processes inbound frames sequentially until the socket dies.
// ARCHITECTURAL DISCOVERY: Sequential dispatch per session is what preserves
// the sender's acknowledgment ordering; events never race within one session
func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	defer h.teardown(conn)

	_ = ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Session %s read error: %v", conn.SessionID(), err)
			}
			return
		}

		var envelope types.Event
		if err := json.Unmarshal(frame, &envelope); err != nil {
			log.Printf("Dropping malformed frame from session %s: %v", conn.SessionID(), err)
			continue
		}

		h.dispatch(ctx, conn, envelope)
	}
}

// dispatch routes one inbound event. Validation failures drop the frame
// silently; the session always survives a bad frame.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, envelope types.Event) {
	switch envelope.Event {
	case types.EventUserOnline:
		var payload types.UserOnlinePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			log.Printf("Dropping malformed user_online from %s: %v", conn.SessionID(), err)
			return
		}
		h.handleUserOnline(conn, payload)

	case types.EventUserOffline:
		var payload types.UserOfflinePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			log.Printf("Dropping malformed user_offline from %s: %v", conn.SessionID(), err)
			return
		}
		h.handleUserOffline(conn, payload)

	case types.EventSendMessage:
		var payload types.SendMessagePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			log.Printf("Dropping malformed send_message from %s: %v", conn.SessionID(), err)
			return
		}
		if err := h.relay.Send(ctx, conn, payload); err != nil {
			log.Printf("Send from session %s failed: %v", conn.SessionID(), err)
		}

	case types.EventTyping:
		var payload types.TypingPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			log.Printf("Dropping malformed typing from %s: %v", conn.SessionID(), err)
			return
		}
		if err := h.relay.RelayTyping(payload); err != nil {
			log.Printf("Typing relay from session %s failed: %v", conn.SessionID(), err)
		}

	case types.EventMessageRead:
		var payload types.MessageReadPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			log.Printf("Dropping malformed message_read from %s: %v", conn.SessionID(), err)
			return
		}
		if err := h.relay.MarkRead(ctx, payload); err != nil {
			log.Printf("Read receipt from session %s failed: %v", conn.SessionID(), err)
		}

	default:
		log.Printf("Dropping unknown event %q from session %s", envelope.Event, conn.SessionID())
	}
}

// handleUserOnline identifies the session and announces presence.
func (h *Handler) handleUserOnline(conn *Conn, payload types.UserOnlinePayload) {
	if err := payload.Validate(); err != nil {
		log.Printf("Dropping invalid user_online from %s: %v", conn.SessionID(), err)
		return
	}

	conn.Identify(payload.UserID, payload.Username)
	h.registry.Identify(conn.SessionID(), payload.UserID)
	h.broadcaster.AnnounceOnline(payload.UserID, payload.Username)
}

// handleUserOffline signs a user off while the socket stays open.
func (h *Handler) handleUserOffline(conn *Conn, payload types.UserOfflinePayload) {
	if payload.UserID == "" {
		log.Printf("Dropping user_offline without user ID from %s", conn.SessionID())
		return
	}

	// FUNCTIONAL DISCOVERY: Only the user's current session may sign it off;
	// a superseded session's sign-off is a no-op
	if !h.registry.ClearUser(payload.UserID, conn.SessionID()) {
		return
	}

	conn.ClearIdentity()
	h.broadcaster.AnnounceOffline(payload.UserID)
}

// teardown removes the session and announces offline when it represented a
// user's live presence.
func (h *Handler) teardown(conn *Conn) {
	userID, wasUser := h.registry.Remove(conn.SessionID())
	_ = conn.Close()

	if wasUser {
		// A superseded or anonymous session disconnecting broadcasts nothing
		h.broadcaster.AnnounceOffline(userID)
	}

	log.Printf("Session %s disconnected (remaining: %d)", conn.SessionID(), h.registry.Count())
}
