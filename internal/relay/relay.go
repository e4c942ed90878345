package relay

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chatrelay/internal/presence"
	"chatrelay/internal/session"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Relay implements the at-least-once message pipeline: validate, persist,
// deliver to the receiver's live session, acknowledge the sender.
type Relay struct {
	storage     interfaces.StorageGateway
	registry    *session.Registry
	broadcaster *presence.Broadcaster
	limiter     *RateLimiter
}

// NewRelay creates a relay over the given storage and session registry.
func NewRelay(storage interfaces.StorageGateway, registry *session.Registry, broadcaster *presence.Broadcaster, limiter *RateLimiter) *Relay {
	return &Relay{
		storage:     storage,
		registry:    registry,
		broadcaster: broadcaster,
		limiter:     limiter,
	}
}

// Send runs one message through the relay pipeline on behalf of the
// originating session.
// ARCHITECTURAL DISCOVERY: Persist happens synchronously BEFORE delivery, so
// an acknowledged message is always durable even if the receiver is offline
func (r *Relay) Send(ctx context.Context, sender interfaces.ClientSession, payload types.SendMessagePayload) error {
	if err := payload.Validate(); err != nil {
		// Invalid frames are dropped without a response, matching the
		// validation policy for every inbound event
		log.Printf("Dropping invalid send_message from session %s: %v", sender.SessionID(), err)
		return err
	}

	if !r.limiter.Allow(payload.SenderID) {
		log.Printf("Rate limit exceeded for sender %s", payload.SenderID)
		r.writeError(sender, "Rate limit exceeded")
		return ErrRateLimited
	}

	message := &types.Message{
		ChatID:     payload.ChatID,
		SenderID:   payload.SenderID,
		ReceiverID: payload.ReceiverID,
		Content:    payload.Message,
		Timestamp:  payload.Timestamp,
	}

	messageID, err := r.storage.InsertMessage(ctx, message)
	if err != nil {
		log.Printf("Failed to persist message from %s: %v", payload.SenderID, err)
		// The error event carries the failure description so the client can
		// distinguish storage trouble from rate limiting
		r.writeError(sender, fmt.Sprintf("Failed to send message: %v", err))
		return fmt.Errorf("message persistence failed: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Chat summary is a best-effort independent write;
	// the message is already durable, so summary failure never fails the send
	if payload.ChatID != "" {
		if err := r.storage.UpdateChatSummary(ctx, payload.ChatID, message.Content, message.Timestamp); err != nil {
			log.Printf("Failed to update chat summary for %s: %v", payload.ChatID, err)
		}
	}

	if receiver, online := r.registry.Resolve(payload.ReceiverID); online {
		if err := receiver.WriteEvent(types.EventReceiveMessage, message); err != nil {
			// Delivery failure is not a send failure; the receiver recovers
			// the message from storage on reconnect
			log.Printf("Failed to deliver message %s to %s: %v", messageID, payload.ReceiverID, err)
		}
	}

	if err := sender.WriteEvent(types.EventMessageSent, types.MessageSentPayload{
		Status:    types.StatusSuccess,
		MessageID: messageID,
	}); err != nil {
		log.Printf("Failed to acknowledge message %s to sender %s: %v", messageID, payload.SenderID, err)
	}

	return nil
}

// MarkRead flips a message's read flag and broadcasts the receipt.
func (r *Relay) MarkRead(ctx context.Context, payload types.MessageReadPayload) error {
	if err := payload.Validate(); err != nil {
		log.Printf("Dropping invalid message_read: %v", err)
		return err
	}

	// FUNCTIONAL DISCOVERY: Unknown message IDs are swallowed silently; a
	// receipt for a deleted message must not disturb any session
	if _, err := r.storage.GetMessage(ctx, payload.MessageID); err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			log.Printf("Read receipt for unknown message %s ignored", payload.MessageID)
			return nil
		}
		return fmt.Errorf("message lookup failed: %w", err)
	}

	if err := r.storage.MarkMessageRead(ctx, payload.MessageID); err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			return nil
		}
		return fmt.Errorf("mark read failed: %w", err)
	}

	r.broadcaster.Broadcast(types.EventMessageRead, payload)
	return nil
}

// RelayTyping fans a typing indicator out to all sessions, unpersisted.
func (r *Relay) RelayTyping(payload types.TypingPayload) error {
	if err := payload.Validate(); err != nil {
		log.Printf("Dropping invalid typing event: %v", err)
		return err
	}

	r.broadcaster.Broadcast(types.EventTyping, payload)
	return nil
}

func (r *Relay) writeError(sender interfaces.ClientSession, reason string) {
	err := sender.WriteEvent(types.EventMessageError, types.MessageErrorPayload{
		Status:  types.StatusError,
		Message: reason,
	})
	if err != nil {
		log.Printf("Failed to report error to session %s: %v", sender.SessionID(), err)
	}
}
