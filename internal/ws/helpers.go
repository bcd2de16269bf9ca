package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID returns a random identifier distinguishing connections from the
// same user, so stale disconnects can be told apart from the live session.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
