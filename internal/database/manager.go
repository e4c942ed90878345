package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Manager implements the StorageGateway interface.
// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write
// contention; reads run concurrently against the WAL
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // protects closed
}

// writeOperation represents a queued database write
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new storage gateway backed by SQLite.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for
	// concurrent reads while writes funnel through the single writer
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry-once policy lives here, in the
			// gateway, so callers never implement their own retries
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 1 second: %v", err)
				time.Sleep(time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("storage gateway is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("storage gateway is shutting down")
	}
}

// InsertMessage persists a message and returns the storage-assigned ID.
// ARCHITECTURAL DISCOVERY: Server controls message IDs to prevent client
// manipulation and guarantee uniqueness across senders
func (m *Manager) InsertMessage(ctx context.Context, message *types.Message) (string, error) {
	message.ID = uuid.New().String()
	if message.MessageType == "" {
		message.MessageType = "text"
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	now := time.Now().UTC()
	message.Read = false
	message.CreatedAt = now
	message.UpdatedAt = now

	err := m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, message_type, is_read, timestamp, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			message.ID,
			nullableString(message.ChatID),
			message.SenderID,
			message.ReceiverID,
			message.Content,
			message.MessageType,
			message.Timestamp,
			message.CreatedAt,
			message.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return message.ID, nil
}

// GetMessage retrieves a message by ID.
func (m *Manager) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations bypass the write channel
	query := `
		SELECT id, chat_id, sender_id, receiver_id, content, message_type, is_read, timestamp, created_at, updated_at
		FROM messages
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, messageID)
	message, err := scanMessage(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}

	return message, nil
}

// MarkMessageRead flips the read flag to true.
// FUNCTIONAL DISCOVERY: The flag only ever moves 0 -> 1; repeated calls are
// harmless and never revert a read message
func (m *Manager) MarkMessageRead(ctx context.Context, messageID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE messages SET is_read = 1, updated_at = ? WHERE id = ?",
			time.Now().UTC(), messageID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark message read: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrMessageNotFound
		}
		return nil
	})
}

// GetChatMessages returns up to limit messages of a chat, newest first.
func (m *Manager) GetChatMessages(ctx context.Context, chatID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, chat_id, sender_id, receiver_id, content, message_type, is_read, timestamp, created_at, updated_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		message, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// CreateUser inserts a new user account.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO users (id, username, email, password_hash, full_name, avatar, status, bio, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			user.ID,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.FullName,
			user.Avatar,
			user.Status,
			user.Bio,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			// TECHNICAL DISCOVERY: Unique email constraint surfaces as a
			// driver error string; mapped to a stable sentinel for the API
			if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
				return interfaces.ErrEmailTaken
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a user by ID.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, userSelect+" WHERE id = ?", userID)
	user, err := scanUser(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email for login.
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, userSelect+" WHERE email = ?", email)
	user, err := scanUser(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return user, nil
}

// ListUsers returns a page of user accounts.
func (m *Manager) ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := m.db.QueryContext(ctx, userSelect+" ORDER BY created_at LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectUsers(rows)
}

// SearchUsers matches username, email or full name, case-insensitive.
func (m *Manager) SearchUsers(ctx context.Context, query string, limit int) ([]*types.User, error) {
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + query + "%"
	rows, err := m.db.QueryContext(ctx,
		userSelect+` WHERE username LIKE ? OR email LIKE ? OR full_name LIKE ? ORDER BY username LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectUsers(rows)
}

// profileColumns whitelists the columns UpdateUserProfile may touch.
// FUNCTIONAL DISCOVERY: email and password_hash deliberately excluded;
// those change through dedicated flows only
var profileColumns = map[string]bool{
	"username":  true,
	"full_name": true,
	"avatar":    true,
	"bio":       true,
	"status":    true,
}

// UpdateUserProfile applies whitelisted profile fields.
func (m *Manager) UpdateUserProfile(ctx context.Context, userID string, fields map[string]string) error {
	var setClauses []string
	var args []interface{}

	for column, value := range fields {
		if !profileColumns[column] {
			continue
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}
	if len(setClauses) == 0 {
		return nil
	}

	sort.Strings(setClauses) // deterministic statement for identical field sets
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), userID)

	return m.executeWrite(func(db *sql.DB) error {
		query := "UPDATE users SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
		result, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update user profile: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrUserNotFound
		}
		return nil
	})
}

// UpdateUserStatus sets the user's presence status string.
func (m *Manager) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE users SET status = ?, updated_at = ? WHERE id = ?",
			status, time.Now().UTC(), userID,
		)
		if err != nil {
			return fmt.Errorf("failed to update user status: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrUserNotFound
		}
		return nil
	})
}

// DeleteUser removes the account plus its sent messages and chats.
// FUNCTIONAL DISCOVERY: Account deletion cascades through sent messages and
// every chat the user participates in, matching the account-removal contract
func (m *Manager) DeleteUser(ctx context.Context, userID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE sender_id = ?", userID); err != nil {
			return fmt.Errorf("failed to delete user messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE participants LIKE ?", participantPattern(userID)); err != nil {
			return fmt.Errorf("failed to delete user chats: %w", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check delete result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrUserNotFound
		}

		return tx.Commit()
	})
}

// CreateChat inserts a new chat with canonicalized participants.
func (m *Manager) CreateChat(ctx context.Context, chat *types.Chat) error {
	// TECHNICAL DISCOVERY: Participants stored sorted so private-chat
	// deduplication reduces to an exact string comparison
	participants := append([]string(nil), chat.Participants...)
	sort.Strings(participants)
	chat.Participants = participants

	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO chats (id, participants, chat_type, group_name, group_avatar, last_message, last_message_time, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			chat.ID,
			string(participantsJSON),
			chat.ChatType,
			nullableString(chat.GroupName),
			nullableString(chat.GroupAvatar),
			nullableString(chat.LastMessage),
			chat.LastMessageTime,
			chat.CreatedAt,
			chat.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}
		return nil
	})
}

// GetChat retrieves a chat by ID.
func (m *Manager) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	row := m.db.QueryRowContext(ctx, chatSelect+" WHERE id = ?", chatID)
	chat, err := scanChat(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	return chat, nil
}

// FindPrivateChat locates an existing private chat with this participant set.
func (m *Manager) FindPrivateChat(ctx context.Context, participants []string) (*types.Chat, error) {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	participantsJSON, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	row := m.db.QueryRowContext(ctx,
		chatSelect+" WHERE chat_type = 'private' AND participants = ?",
		string(participantsJSON),
	)
	chat, err := scanChat(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to query private chat: %w", err)
	}
	return chat, nil
}

// ListUserChats returns every chat the user participates in, most recent first.
func (m *Manager) ListUserChats(ctx context.Context, userID string) ([]*types.Chat, error) {
	rows, err := m.db.QueryContext(ctx,
		chatSelect+" WHERE participants LIKE ? ORDER BY updated_at DESC",
		participantPattern(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []*types.Chat
	for rows.Next() {
		chat, err := scanChat(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}

	return chats, nil
}

// DeleteChat removes a chat summary row.
func (m *Manager) DeleteChat(ctx context.Context, chatID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check delete result: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrChatNotFound
		}
		return nil
	})
}

// UpdateChatSummary denormalizes the latest message onto the chat row.
// ARCHITECTURAL DISCOVERY: Independent write from InsertMessage; the relay
// issues both without a cross-write transaction and accepts the brief skew
func (m *Manager) UpdateChatSummary(ctx context.Context, chatID, lastMessage string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"UPDATE chats SET last_message = ?, last_message_time = ?, updated_at = ? WHERE id = ?",
			lastMessage, at, time.Now().UTC(), chatID,
		)
		if err != nil {
			return fmt.Errorf("failed to update chat summary: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the storage gateway.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

const userSelect = `SELECT id, username, email, password_hash, full_name, avatar, status, bio, created_at, updated_at FROM users`

const chatSelect = `SELECT id, participants, chat_type, group_name, group_avatar, last_message, last_message_time, created_at, updated_at FROM chats`

// scanMessage reads one message row through any Scan-shaped function.
func scanMessage(scan func(dest ...interface{}) error) (*types.Message, error) {
	var message types.Message
	var chatID sql.NullString
	var isRead int

	err := scan(
		&message.ID,
		&chatID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&message.MessageType,
		&isRead,
		&message.Timestamp,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if chatID.Valid {
		message.ChatID = chatID.String
	}
	message.Read = isRead != 0

	return &message, nil
}

func scanUser(scan func(dest ...interface{}) error) (*types.User, error) {
	var user types.User
	err := scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Avatar,
		&user.Status,
		&user.Bio,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func scanChat(scan func(dest ...interface{}) error) (*types.Chat, error) {
	var chat types.Chat
	var participantsJSON string
	var groupName, groupAvatar, lastMessage sql.NullString
	var lastMessageTime sql.NullTime

	err := scan(
		&chat.ID,
		&participantsJSON,
		&chat.ChatType,
		&groupName,
		&groupAvatar,
		&lastMessage,
		&lastMessageTime,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participantsJSON), &chat.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if groupName.Valid {
		chat.GroupName = groupName.String
	}
	if groupAvatar.Valid {
		chat.GroupAvatar = groupAvatar.String
	}
	if lastMessage.Valid {
		chat.LastMessage = lastMessage.String
	}
	if lastMessageTime.Valid {
		chat.LastMessageTime = &lastMessageTime.Time
	}

	return &chat, nil
}

func collectUsers(rows *sql.Rows) ([]*types.User, error) {
	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// participantPattern matches a quoted user ID inside the participants JSON.
func participantPattern(userID string) string {
	return `%"` + userID + `"%`
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// applySQLiteOptimizations applies performance pragmas.
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
