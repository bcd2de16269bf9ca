package models

import "time"

// Message is a stored chat message between two users. The payload and iv
// are opaque to the service; clients own whatever encryption is applied.
// Rows are immutable after insert except for read_status, and are removed
// by the retention sweeper once created_at falls outside the horizon.
type Message struct {
	ID          int       `db:"id" json:"id"`
	SenderID    int       `db:"sender_id" json:"sender_id"`
	ReceiverID  int       `db:"receiver_id" json:"receiver_id"`
	Payload     string    `db:"payload" json:"payload"`
	IV          string    `db:"iv" json:"iv"`
	ClientToken *string   `db:"client_token" json:"client_token,omitempty"`
	ReadStatus  bool      `db:"read_status" json:"read_status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ConversationMessage is a message joined with the usernames of both ends,
// as returned by the conversation read path.
type ConversationMessage struct {
	Message
	SenderUsername   string `db:"sender_username" json:"sender_username"`
	ReceiverUsername string `db:"receiver_username" json:"receiver_username"`
}
