package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/types"
)

// dialTestConn sets up a server-side Conn and a raw client socket.
func dialTestConn(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- NewConn(ws, 16, time.Minute, 5*time.Second)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	conn := <-connCh
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestConn_WriteEventEnvelope(t *testing.T) {
	conn, client := dialTestConn(t)

	err := conn.WriteEvent(types.EventMessageSent, types.MessageSentPayload{
		Status:    types.StatusSuccess,
		MessageID: "m1",
	})
	if err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}

	var envelope types.Event
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("frame is not an envelope: %v", err)
	}
	if envelope.Event != types.EventMessageSent {
		t.Errorf("event = %q, want %q", envelope.Event, types.EventMessageSent)
	}

	var payload types.MessageSentPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.MessageID != "m1" || payload.Status != types.StatusSuccess {
		t.Errorf("payload = %+v", payload)
	}
}

func TestConn_WriteOrderPreserved(t *testing.T) {
	conn, client := dialTestConn(t)

	for i, id := range []string{"first", "second", "third"} {
		err := conn.WriteEvent(types.EventMessageSent, types.MessageSentPayload{
			Status: types.StatusSuccess, MessageID: id,
		})
		if err != nil {
			t.Fatalf("WriteEvent %d failed: %v", i, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		var envelope types.Event
		var payload types.MessageSentPayload
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.MessageID != want {
			t.Errorf("message ID = %q, want %q (FIFO order)", payload.MessageID, want)
		}
	}
}

func TestConn_Identity(t *testing.T) {
	conn, _ := dialTestConn(t)

	if conn.IsIdentified() {
		t.Error("new connection should be anonymous")
	}
	if conn.SessionID() == "" {
		t.Error("session ID should be assigned at creation")
	}

	conn.Identify("alice", "Alice")
	if !conn.IsIdentified() || conn.UserID() != "alice" || conn.Username() != "Alice" {
		t.Errorf("identity = (%q, %q)", conn.UserID(), conn.Username())
	}

	conn.ClearIdentity()
	if conn.IsIdentified() {
		t.Error("identity should clear")
	}
}

func TestConn_WriteAfterClose(t *testing.T) {
	conn, _ := dialTestConn(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Repeated close is safe
	if err := conn.Close(); err != nil {
		t.Fatalf("repeated Close failed: %v", err)
	}

	err := conn.WriteEvent(types.EventTyping, types.TypingPayload{SenderID: "a", ReceiverID: "b"})
	if err == nil {
		t.Error("expected error writing after close")
	}
}
