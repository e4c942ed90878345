package scenarios

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/presence"
	"chatrelay/internal/relay"
	"chatrelay/internal/session"
	ws "chatrelay/internal/websocket"
	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
	"chatrelay/tests/fixtures"
)

const eventTimeout = 2 * time.Second

// setupStack wires the full component graph over a temporary database and
// returns the test server plus the storage manager for direct inspection.
func setupStack(t *testing.T) (*httptest.Server, *database.Manager) {
	t.Helper()

	cfg := &dbconfig.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "scenario.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		MigrationsPath:  filepath.Join("..", "..", "migrations"),
	}
	manager, err := database.NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	migrator := dbconfig.NewMigrationManager(manager.GetDB(), cfg.MigrationsPath)
	if err := migrator.ApplyMigrations(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	registry := session.NewRegistry()
	broadcaster := presence.NewBroadcaster(registry)
	limiter := relay.NewRateLimiter(100, time.Minute)
	messageRelay := relay.NewRelay(manager, registry, broadcaster, limiter)

	wsHandler := ws.NewHandler(registry, broadcaster, messageRelay, &config.WebSocketConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	})
	tokens := auth.NewTokenService("scenario-secret", time.Hour)
	server := httptest.NewServer(api.NewServer(manager, tokens, registry, wsHandler))
	t.Cleanup(server.Close)

	return server, manager
}

// connect dials and consumes the connection_established frame.
func connect(t *testing.T, server *httptest.Server) (*fixtures.TestClient, string) {
	t.Helper()

	client, err := fixtures.Connect(server.URL)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	envelope, err := client.WaitForEvent(types.EventConnectionEstablished, eventTimeout)
	if err != nil {
		t.Fatalf("no connection_established: %v", err)
	}
	var payload types.ConnectionEstablishedPayload
	if err := fixtures.DecodePayload(envelope, &payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.SessionID == "" {
		t.Fatal("connection_established without session ID")
	}
	return client, payload.SessionID
}

func TestScenario_ConnectionEstablishedIsFirstFrame(t *testing.T) {
	server, _ := setupStack(t)

	client, err := fixtures.Connect(server.URL)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	envelope, err := client.ReadEvent(eventTimeout)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if envelope.Event != types.EventConnectionEstablished {
		t.Errorf("first frame = %q, want connection_established", envelope.Event)
	}
}

func TestScenario_PresenceBroadcastIncludesEcho(t *testing.T) {
	server, _ := setupStack(t)

	alice, _ := connect(t, server)
	bob, _ := connect(t, server)

	if err := alice.SendEvent(types.EventUserOnline, types.UserOnlinePayload{
		UserID: "alice", Username: "Alice",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	for name, client := range map[string]*fixtures.TestClient{"alice": alice, "bob": bob} {
		envelope, err := client.WaitForEvent(types.EventUserOnline, eventTimeout)
		if err != nil {
			t.Fatalf("%s did not receive user_online: %v", name, err)
		}
		var payload types.UserOnlinePayload
		if err := fixtures.DecodePayload(envelope, &payload); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if payload.UserID != "alice" || payload.Username != "Alice" {
			t.Errorf("%s saw payload %+v", name, payload)
		}
	}
}

func TestScenario_MessageDeliveredAndAcked(t *testing.T) {
	server, manager := setupStack(t)

	alice, _ := connect(t, server)
	bob, _ := connect(t, server)
	if err := alice.Identify("alice", "Alice"); err != nil {
		t.Fatalf("alice identify failed: %v", err)
	}
	if err := bob.Identify("bob", "Bob"); err != nil {
		t.Fatalf("bob identify failed: %v", err)
	}

	if err := alice.SendEvent(types.EventSendMessage, types.SendMessagePayload{
		SenderID:   "alice",
		ReceiverID: "bob",
		Message:    "hello bob",
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	envelope, err := bob.WaitForEvent(types.EventReceiveMessage, eventTimeout)
	if err != nil {
		t.Fatalf("bob did not receive the message: %v", err)
	}
	var delivered types.Message
	if err := fixtures.DecodePayload(envelope, &delivered); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if delivered.Content != "hello bob" || delivered.ID == "" {
		t.Errorf("delivered = %+v", delivered)
	}

	ackEnvelope, err := alice.WaitForEvent(types.EventMessageSent, eventTimeout)
	if err != nil {
		t.Fatalf("alice did not receive the ack: %v", err)
	}
	var ack types.MessageSentPayload
	if err := fixtures.DecodePayload(ackEnvelope, &ack); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ack.Status != types.StatusSuccess || ack.MessageID != delivered.ID {
		t.Errorf("ack = %+v, delivered ID = %q", ack, delivered.ID)
	}

	stored, err := manager.GetMessage(context.Background(), delivered.ID)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.Read {
		t.Error("fresh message should be unread")
	}
}

func TestScenario_OfflineReceiverMessagePersists(t *testing.T) {
	server, manager := setupStack(t)

	alice, _ := connect(t, server)
	if err := alice.Identify("alice", "Alice"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}

	if err := alice.SendEvent(types.EventSendMessage, types.SendMessagePayload{
		SenderID:   "alice",
		ReceiverID: "bob",
		Message:    "are you there?",
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ackEnvelope, err := alice.WaitForEvent(types.EventMessageSent, eventTimeout)
	if err != nil {
		t.Fatalf("offline receiver must not prevent the ack: %v", err)
	}
	var ack types.MessageSentPayload
	if err := fixtures.DecodePayload(ackEnvelope, &ack); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if _, err := manager.GetMessage(context.Background(), ack.MessageID); err != nil {
		t.Errorf("message not persisted for offline receiver: %v", err)
	}
}

func TestScenario_TypingRelayedNotPersisted(t *testing.T) {
	server, manager := setupStack(t)

	alice, _ := connect(t, server)
	bob, _ := connect(t, server)
	if err := alice.Identify("alice", "Alice"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	if err := bob.Identify("bob", "Bob"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}

	if err := alice.SendEvent(types.EventTyping, types.TypingPayload{
		SenderID: "alice", ReceiverID: "bob", IsTyping: true,
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	envelope, err := bob.WaitForEvent(types.EventTyping, eventTimeout)
	if err != nil {
		t.Fatalf("typing not relayed: %v", err)
	}
	var payload types.TypingPayload
	if err := fixtures.DecodePayload(envelope, &payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !payload.IsTyping || payload.SenderID != "alice" {
		t.Errorf("payload = %+v", payload)
	}

	messages, err := manager.GetChatMessages(context.Background(), "any", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(messages) != 0 {
		t.Error("typing indicators must not be persisted")
	}
}

func TestScenario_ReadReceiptBroadcast(t *testing.T) {
	server, manager := setupStack(t)

	alice, _ := connect(t, server)
	bob, _ := connect(t, server)
	if err := alice.Identify("alice", "Alice"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	if err := bob.Identify("bob", "Bob"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}

	msgID, err := manager.InsertMessage(context.Background(), &types.Message{
		SenderID: "alice", ReceiverID: "bob", Content: "read me",
	})
	if err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	if err := bob.SendEvent(types.EventMessageRead, types.MessageReadPayload{
		MessageID: msgID, ReaderID: "bob",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	envelope, err := alice.WaitForEvent(types.EventMessageRead, eventTimeout)
	if err != nil {
		t.Fatalf("read receipt not broadcast: %v", err)
	}
	var payload types.MessageReadPayload
	if err := fixtures.DecodePayload(envelope, &payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.MessageID != msgID || payload.ReaderID != "bob" {
		t.Errorf("payload = %+v", payload)
	}

	stored, err := manager.GetMessage(context.Background(), msgID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !stored.Read {
		t.Error("message should be marked read")
	}
}

func TestScenario_ReadReceiptForUnknownMessageIsSilent(t *testing.T) {
	server, _ := setupStack(t)

	alice, _ := connect(t, server)
	bob, _ := connect(t, server)
	if err := alice.Identify("alice", "Alice"); err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	_ = bob

	if err := alice.SendEvent(types.EventMessageRead, types.MessageReadPayload{
		MessageID: "no-such-message", ReaderID: "alice",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if err := alice.ExpectSilence(500 * time.Millisecond); err != nil {
		t.Errorf("unknown message receipt must be silent: %v", err)
	}
}
