package types

import (
	"encoding/json"
	"time"
)

// ARCHITECTURAL DISCOVERY: Event name constants defined exactly as the wire
// protocol specifies so client and server never disagree on spelling
const (
	// Outbound only
	EventConnectionEstablished = "connection_established"
	EventReceiveMessage        = "receive_message"
	EventMessageSent           = "message_sent"
	EventMessageError          = "message_error"

	// Inbound, rebroadcast outbound under the same name
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMessageRead = "message_read"
)

// Acknowledgment status values carried in message_sent / message_error
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is the JSON envelope for every frame on the websocket transport.
// TECHNICAL DISCOVERY: Data stays raw until the handler knows the event name,
// giving one decode pass per frame without generic map payloads
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is the durable chat message record.
// FUNCTIONAL DISCOVERY: ID is assigned by the storage gateway on insert,
// never by the client; Read flips false->true exactly once and never reverts
type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id,omitempty"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"` // text, image, video, file
	Read        bool      `json:"is_read"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is the account record managed by the REST collaborator surface.
// TECHNICAL DISCOVERY: json:"-" prevents password hash serialization
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Status       string    `json:"status,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Chat is the conversation summary record.
// FUNCTIONAL DISCOVERY: LastMessage/LastMessageTime are denormalized from the
// latest message by an independent write and may briefly lag the messages table
type Chat struct {
	ID              string     `json:"id"`
	Participants    []string   `json:"participants"`
	ChatType        string     `json:"chat_type"` // private, group
	GroupName       string     `json:"group_name,omitempty"`
	GroupAvatar     string     `json:"group_avatar,omitempty"`
	LastMessage     string     `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Inbound payload shapes, verbatim from the transport protocol.

type UserOnlinePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type UserOfflinePayload struct {
	UserID string `json:"user_id"`
}

type SendMessagePayload struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	ChatID     string    `json:"chat_id,omitempty"`
}

type TypingPayload struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// Outbound payload shapes.

type ConnectionEstablishedPayload struct {
	SessionID string `json:"session_id"`
}

type MessageSentPayload struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

type MessageErrorPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
