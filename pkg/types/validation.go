package types

import "regexp"

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxContentBytes bounds a single message body (64KB).
const maxContentBytes = 65536

// IsValidUserID checks if a user ID meets format requirements.
// FUNCTIONAL DISCOVERY: 1-64 character limit accommodates both short handles
// and server-generated UUID identifiers
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// Validate ensures a user_online payload carries a usable identity.
func (p *UserOnlinePayload) Validate() error {
	if !IsValidUserID(p.UserID) {
		return ErrInvalidUserID
	}
	if p.Username == "" {
		return ErrMissingUsername
	}
	return nil
}

// Validate ensures a send_message payload is routable and persistable.
// ARCHITECTURAL DISCOVERY: Validation at type level keeps the relay and the
// connection handler agreeing on what a well-formed send looks like
func (p *SendMessagePayload) Validate() error {
	if !IsValidUserID(p.SenderID) {
		return ErrMissingSenderID
	}
	if !IsValidUserID(p.ReceiverID) {
		return ErrMissingReceiverID
	}
	if p.Message == "" {
		return ErrEmptyContent
	}
	if len(p.Message) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate ensures a typing payload names both parties.
func (p *TypingPayload) Validate() error {
	if !IsValidUserID(p.SenderID) {
		return ErrMissingSenderID
	}
	if !IsValidUserID(p.ReceiverID) {
		return ErrMissingReceiverID
	}
	return nil
}

// Validate ensures a message_read payload names the message and the reader.
func (p *MessageReadPayload) Validate() error {
	if p.MessageID == "" {
		return ErrMissingMessageID
	}
	if !IsValidUserID(p.ReaderID) {
		return ErrMissingReaderID
	}
	return nil
}
