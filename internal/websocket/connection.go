package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatrelay/pkg/types"
)

// Conn wraps a websocket connection as a ClientSession.
// ARCHITECTURAL DISCOVERY: All socket writes funnel through a single pump
// goroutine because gorilla/websocket forbids concurrent writers
type Conn struct {
	sessionID string
	ws        *websocket.Conn

	writeCh      chan []byte
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration

	mu       sync.RWMutex
	userID   string
	username string
}

// NewConn creates a session wrapper and starts its write pump.
func NewConn(ws *websocket.Conn, bufferSize int, pingInterval, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	conn := &Conn{
		sessionID:    uuid.New().String(),
		ws:           ws,
		writeCh:      make(chan []byte, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}

	go conn.writePump()
	return conn
}

// SessionID returns the server-assigned session identifier.
func (c *Conn) SessionID() string {
	return c.sessionID
}

// WriteEvent queues an event envelope for delivery.
// FUNCTIONAL DISCOVERY: Writers within one session-directed pipeline are
// FIFO; the pump preserves queue order on the wire
func (c *Conn) WriteEvent(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(types.Event{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		// A full buffer means the client cannot keep up; dropping beats
		// blocking the relay behind one slow session
		return ErrWriteBufferFull
	}
}

// UserID returns the identified user, empty while anonymous.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Username returns the identified display name.
func (c *Conn) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsIdentified reports whether the session has declared a user.
func (c *Conn) IsIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID != ""
}

// Identify binds the session to a user.
func (c *Conn) Identify(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
}

// ClearIdentity returns the session to the anonymous state.
func (c *Conn) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.username = ""
}

// Close shuts down the session exactly once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(c.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := c.ws.Close(); err != nil {
			log.Printf("Error closing websocket for session %s: %v", c.sessionID, err)
		}
	})
	return nil
}

// writePump serializes every outbound frame and transport ping.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.writeCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("Write failed for session %s: %v", c.sessionID, err)
				c.cancel()
				return
			}

		case <-ticker.C:
			// TECHNICAL DISCOVERY: Transport-level ping is the only liveness
			// mechanism; a missed pong surfaces as a read error in the handler
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Ping failed for session %s: %v", c.sessionID, err)
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
