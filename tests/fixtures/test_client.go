// Package fixtures provides a websocket test client speaking the event
// envelope protocol.
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/types"
)

// TestClient is a protocol-level websocket client for integration tests.
type TestClient struct {
	conn *websocket.Conn
}

// Connect dials the websocket endpoint of an HTTP test server.
func Connect(serverURL string) (*TestClient, error) {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	return &TestClient{conn: conn}, nil
}

// SendEvent writes one event envelope to the server.
func (c *TestClient) SendEvent(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	frame, err := json.Marshal(types.Event{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// SendRaw writes a raw frame, for malformed-input tests.
func (c *TestClient) SendRaw(frame []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadEvent reads the next envelope, failing after the timeout.
func (c *TestClient) ReadEvent(timeout time.Duration) (*types.Event, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var envelope types.Event
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("frame is not an envelope: %w", err)
	}
	return &envelope, nil
}

// WaitForEvent reads until the named event arrives, discarding others.
func (c *TestClient) WaitForEvent(event string, timeout time.Duration) (*types.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timed out waiting for %s", event)
		}
		envelope, err := c.ReadEvent(remaining)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", event, err)
		}
		if envelope.Event == event {
			return envelope, nil
		}
	}
}

// ExpectSilence fails if any event arrives within the window.
func (c *TestClient) ExpectSilence(window time.Duration) error {
	envelope, err := c.ReadEvent(window)
	if err != nil {
		return nil // timeout is the expected outcome
	}
	return fmt.Errorf("unexpected event %s", envelope.Event)
}

// Identify performs the user_online handshake, consuming the resulting
// user_online broadcast echo.
func (c *TestClient) Identify(userID, username string) error {
	err := c.SendEvent(types.EventUserOnline, types.UserOnlinePayload{
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		return err
	}
	_, err = c.WaitForEvent(types.EventUserOnline, 2*time.Second)
	return err
}

// DecodePayload unmarshals an envelope's data into out.
func DecodePayload(envelope *types.Event, out interface{}) error {
	return json.Unmarshal(envelope.Data, out)
}

// Close closes the underlying socket.
func (c *TestClient) Close() error {
	return c.conn.Close()
}
