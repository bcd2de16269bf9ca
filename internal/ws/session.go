package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session wraps a single authenticated websocket connection. Writes are
// serialized through a per-session mutex since broadcasts and the reader's
// acknowledgements come from different goroutines.
type Session struct {
	UserID      int
	Username    string
	ConnID      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, userID int, username string) *Session {
	return &Session{
		UserID:      userID,
		Username:    username,
		ConnID:      newConnID(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send marshals the event and writes it to the connection.
func (s *Session) Send(event any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(event)
}

// Close shuts the underlying connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// clientEvent is the frame read from a client connection. Fields beyond
// Type are populated per event kind.
type clientEvent struct {
	Type        string `json:"type"`
	ReceiverID  int    `json:"receiver_id"`
	Payload     string `json:"payload"`
	IV          string `json:"iv"`
	ClientToken string `json:"client_token"`
}
