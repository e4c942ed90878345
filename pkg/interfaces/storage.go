package interfaces

import (
	"context"
	"time"

	"chatrelay/pkg/types"
)

// StorageGateway handles all database operations.
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent write serialization and connection management; the relay
// treats every method as an opaque atomic operation with no retry of its own
type StorageGateway interface {
	// Message operations (consumed by the relay core)

	// InsertMessage persists a message and returns the storage-assigned ID.
	// FUNCTIONAL DISCOVERY: Insert must complete before any delivery or
	// acknowledgment so the message history never misses a relayed message
	InsertMessage(ctx context.Context, message *types.Message) (string, error)

	// GetMessage retrieves a message by ID, ErrMessageNotFound when absent.
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)

	// MarkMessageRead flips the read flag to true. Idempotent.
	MarkMessageRead(ctx context.Context, messageID string) error

	// GetChatMessages returns up to limit messages of a chat, newest first.
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]*types.Message, error)

	// User operations (REST collaborator surface)

	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]*types.User, error)
	UpdateUserProfile(ctx context.Context, userID string, fields map[string]string) error
	UpdateUserStatus(ctx context.Context, userID, status string) error
	DeleteUser(ctx context.Context, userID string) error

	// Chat operations (REST collaborator surface)

	CreateChat(ctx context.Context, chat *types.Chat) error
	GetChat(ctx context.Context, chatID string) (*types.Chat, error)
	FindPrivateChat(ctx context.Context, participants []string) (*types.Chat, error)
	ListUserChats(ctx context.Context, userID string) ([]*types.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error

	// UpdateChatSummary denormalizes the latest message onto the chat row.
	// ARCHITECTURAL DISCOVERY: Independent write from InsertMessage; the two
	// may be observed out of order by a concurrent reader and that is accepted
	UpdateChatSummary(ctx context.Context, chatID, lastMessage string, at time.Time) error

	// Health and lifecycle operations

	// HealthCheck verifies database connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close drains pending writes and closes the database.
	Close() error
}
