package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID     = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrMissingSenderID   = errors.New("sender_id is required")
	ErrMissingReceiverID = errors.New("receiver_id is required")
	ErrEmptyContent      = errors.New("message content cannot be empty")
	ErrContentTooLarge   = errors.New("message content exceeds 64KB limit")
	ErrMissingMessageID  = errors.New("message_id is required")
	ErrMissingReaderID   = errors.New("reader_id is required")
	ErrMissingUsername   = errors.New("username is required")
	ErrUnknownEvent      = errors.New("unknown event name")
)
