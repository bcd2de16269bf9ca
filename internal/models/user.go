package models

import "time"

// User is a registered account. The password hash never leaves the service.
type User struct {
	ID           int       `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	PublicKey    *string   `db:"public_key" json:"public_key,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// PresenceInfo is the public view of an online user, as sent in
// online_users snapshots and presence broadcasts.
type PresenceInfo struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}
