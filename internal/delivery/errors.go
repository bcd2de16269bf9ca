package delivery

import "errors"

var (
	// ErrInvalidRequest rejects a send with missing or malformed fields.
	// Nothing is persisted.
	ErrInvalidRequest = errors.New("invalid message data")

	// ErrPersistence reports a store failure. No delivery follows a failed
	// write; the caller may retry with the same client token.
	ErrPersistence = errors.New("failed to store message")

	// ErrInconsistent reports that an authenticated sender has no user row.
	// Fatal to the request, not to the connection.
	ErrInconsistent = errors.New("sender not found")
)
