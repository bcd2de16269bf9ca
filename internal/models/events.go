package models

import "time"

// Websocket event types, client to server.
const (
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Websocket event types, server to client.
const (
	EventReceiveMessage    = "receive_message"
	EventMessageSent       = "message_sent"
	EventOnlineUsers       = "online_users"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventError             = "error"
)

// SendMessageRequest is the send_message payload from a client. ClientToken
// is an optional caller-chosen idempotency token: a retried send carrying
// the same token resolves to the already persisted row instead of creating
// a duplicate.
type SendMessageRequest struct {
	ReceiverID  int    `json:"receiver_id"`
	Payload     string `json:"payload"`
	IV          string `json:"iv"`
	ClientToken string `json:"client_token,omitempty"`
}

// MessageEnvelope is the receive_message event routed to a recipient's
// live connection, as opposed to the stored row.
type MessageEnvelope struct {
	Type           string    `json:"type"`
	ID             int       `json:"id"`
	SenderID       int       `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	ReceiverID     int       `json:"receiver_id"`
	Payload        string    `json:"payload"`
	IV             string    `json:"iv"`
	ClientToken    string    `json:"client_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendAck acknowledges a send_message to the sender over its own connection.
type SendAck struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	MessageID   int    `json:"message_id"`
	ClientToken string `json:"client_token,omitempty"`
}

// PresenceEvent announces a user going online or offline. Username is only
// set for user_online; user_offline carries the id alone.
type PresenceEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// OnlineUsersEvent is the snapshot sent once to a newly connected client.
type OnlineUsersEvent struct {
	Type  string         `json:"type"`
	Users []PresenceInfo `json:"users"`
}

// TypingEvent relays a typing indicator to the targeted user only.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ErrorEvent reports a per-request failure to the requesting connection.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
