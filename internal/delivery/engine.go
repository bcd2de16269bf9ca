package delivery

import (
	"context"
	"errors"
	"fmt"

	"whisper-service/internal/models"
	"whisper-service/internal/observability"
	"whisper-service/internal/repositories"
)

// Roster locates live connections. Satisfied by ws.Hub.
type Roster interface {
	SendTo(userID int, event any) bool
}

// Engine accepts sends from authenticated connections, persists them, and
// routes them to the receiver's live connection when there is one. A message
// is always persisted before any delivery attempt: a stored-but-unpushed
// message is recovered by the next conversation fetch, while a pushed-but-
// unstored one would be lost.
type Engine struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	roster   Roster
}

// NewEngine constructs an Engine.
func NewEngine(messages repositories.MessageRepository, users repositories.UserRepository, roster Roster) *Engine {
	return &Engine{messages: messages, users: users, roster: roster}
}

// Send validates, persists, and routes one message, returning the stored
// row for the sender's acknowledgement. The receiver being offline is not
// an error.
func (e *Engine) Send(ctx context.Context, senderID int, req models.SendMessageRequest) (models.Message, error) {
	if req.ReceiverID <= 0 || req.Payload == "" || req.IV == "" {
		return models.Message{}, ErrInvalidRequest
	}
	if req.ReceiverID == senderID {
		return models.Message{}, ErrInvalidRequest
	}

	msg, err := e.messages.Create(ctx, senderID, req.ReceiverID, req.Payload, req.IV, req.ClientToken)
	if err != nil {
		if errors.Is(err, repositories.ErrReceiverNotFound) {
			return models.Message{}, fmt.Errorf("%w: receiver %d does not exist", ErrInvalidRequest, req.ReceiverID)
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	sender, err := e.users.GetByID(ctx, senderID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.Message{}, ErrInconsistent
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	envelope := models.MessageEnvelope{
		Type:           models.EventReceiveMessage,
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: sender.Username,
		ReceiverID:     msg.ReceiverID,
		Payload:        msg.Payload,
		IV:             msg.IV,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ClientToken != nil {
		envelope.ClientToken = *msg.ClientToken
	}

	if e.roster.SendTo(msg.ReceiverID, envelope) {
		observability.IncMessageDelivered("pushed")
	} else {
		observability.IncMessageDelivered("stored")
	}

	return msg, nil
}

// NotifyTyping relays a typing indicator to the target's connection only.
// Fire and forget: no persistence, silently dropped when offline.
func (e *Engine) NotifyTyping(senderID int, senderUsername string, receiverID int) {
	if receiverID <= 0 {
		return
	}
	e.roster.SendTo(receiverID, models.TypingEvent{
		Type:     models.EventUserTyping,
		UserID:   senderID,
		Username: senderUsername,
	})
}

// NotifyStoppedTyping relays the end of a typing indicator.
func (e *Engine) NotifyStoppedTyping(senderID, receiverID int) {
	if receiverID <= 0 {
		return
	}
	e.roster.SendTo(receiverID, models.TypingEvent{
		Type:   models.EventUserStoppedTyping,
		UserID: senderID,
	})
}
