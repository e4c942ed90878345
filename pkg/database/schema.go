package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":             "User account storage",
		"chats":             "Chat summary storage",
		"messages":          "Message data storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	userColumns := map[string]string{
		"id":            "TEXT",
		"username":      "TEXT",
		"email":         "TEXT",
		"password_hash": "TEXT",
		"full_name":     "TEXT",
		"avatar":        "TEXT",
		"status":        "TEXT",
		"bio":           "TEXT",
		"created_at":    "DATETIME",
		"updated_at":    "DATETIME",
	}
	if err := v.validateColumns("users", userColumns); err != nil {
		return fmt.Errorf("users table structure invalid: %w", err)
	}

	chatColumns := map[string]string{
		"id":                "TEXT",
		"participants":      "TEXT",
		"chat_type":         "TEXT",
		"group_name":        "TEXT",
		"group_avatar":      "TEXT",
		"last_message":      "TEXT",
		"last_message_time": "DATETIME",
		"created_at":        "DATETIME",
		"updated_at":        "DATETIME",
	}
	if err := v.validateColumns("chats", chatColumns); err != nil {
		return fmt.Errorf("chats table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":           "TEXT",
		"chat_id":      "TEXT",
		"sender_id":    "TEXT",
		"receiver_id":  "TEXT",
		"content":      "TEXT",
		"message_type": "TEXT",
		"is_read":      "INTEGER",
		"timestamp":    "DATETIME",
		"created_at":   "DATETIME",
		"updated_at":   "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_users_email":        "Login lookups",
		"idx_messages_chat_time": "Message history retrieval",
		"idx_messages_receiver":  "Unread message queries",
		"idx_chats_updated":      "Chat list ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = colType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expectedColumns {
		foundType, exists := foundColumns[column]
		if !exists {
			return fmt.Errorf("column %s missing from table %s", column, tableName)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s.%s has type %s, expected %s", tableName, column, foundType, expectedType)
		}
	}

	return nil
}
