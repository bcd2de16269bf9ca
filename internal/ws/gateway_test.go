package ws

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"whisper-service/internal/auth"
	"whisper-service/internal/delivery"
	"whisper-service/internal/mocks"
	"whisper-service/internal/models"
)

type gatewayFixture struct {
	server   *httptest.Server
	tokens   *auth.TokenManager
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	messages := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	hub := NewHub()
	engine := delivery.NewEngine(messages, users, hub)
	gateway := NewGateway(hub, engine, tokens)

	router := gin.New()
	router.GET("/ws", gateway.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gatewayFixture{server: server, tokens: tokens, messages: messages, users: users}
}

func (f *gatewayFixture) dial(t *testing.T, userID int, username string) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Issue(userID, username)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func expectNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws?token=not-a-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectReceivesOnlineSnapshot(t *testing.T) {
	f := newGatewayFixture(t)

	bob := f.dial(t, 2, "bob")
	event := readEvent(t, bob)
	require.Equal(t, models.EventOnlineUsers, event["type"])
	users := event["users"].([]any)
	require.Len(t, users, 1)

	alice := f.dial(t, 1, "alice")
	event = readEvent(t, alice)
	require.Equal(t, models.EventOnlineUsers, event["type"])
	require.Len(t, event["users"].([]any), 2)

	// Bob learns about alice; alice does not hear about herself.
	event = readEvent(t, bob)
	require.Equal(t, models.EventUserOnline, event["type"])
	assert.Equal(t, float64(1), event["user_id"])
	assert.Equal(t, "alice", event["username"])
}

func TestEndToEndSendAndAck(t *testing.T) {
	f := newGatewayFixture(t)

	bob := f.dial(t, 2, "bob")
	readEvent(t, bob) // online_users

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users
	readEvent(t, bob)   // user_online alice

	created := time.Now().UTC().Truncate(time.Second)
	clientToken := "tok-1"
	f.messages.On("Create", mock.Anything, 1, 2, "ct", "nonce", "tok-1").
		Return(models.Message{ID: 7, SenderID: 1, ReceiverID: 2, Payload: "ct", IV: "nonce", ClientToken: &clientToken, CreatedAt: created}, nil).Once()
	f.users.On("GetByID", mock.Anything, 1).
		Return(models.User{ID: 1, Username: "alice"}, nil).Once()

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":         models.EventSendMessage,
		"receiver_id":  2,
		"payload":      "ct",
		"iv":           "nonce",
		"client_token": "tok-1",
	}))

	received := readEvent(t, bob)
	require.Equal(t, models.EventReceiveMessage, received["type"])
	assert.Equal(t, float64(7), received["id"])
	assert.Equal(t, float64(1), received["sender_id"])
	assert.Equal(t, "alice", received["sender_username"])
	assert.Equal(t, float64(2), received["receiver_id"])
	assert.Equal(t, "ct", received["payload"])
	assert.Equal(t, "nonce", received["iv"])
	assert.Equal(t, "tok-1", received["client_token"])

	ack := readEvent(t, alice)
	require.Equal(t, models.EventMessageSent, ack["type"])
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, float64(7), ack["message_id"])
	assert.Equal(t, "tok-1", ack["client_token"])

	f.messages.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func TestInvalidSendKeepsConnectionOpen(t *testing.T) {
	f := newGatewayFixture(t)

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":        models.EventSendMessage,
		"receiver_id": 2,
		"payload":     "ct",
		// iv missing
	}))

	event := readEvent(t, alice)
	require.Equal(t, models.EventError, event["type"])
	assert.Equal(t, "invalid message data", event["error"])

	// Nothing persisted, connection still usable.
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.NoError(t, alice.WriteJSON(map[string]any{"type": models.EventTyping, "receiver_id": 99}))
	expectNoEvent(t, alice)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	f := newGatewayFixture(t)

	bob := f.dial(t, 2, "bob")
	readEvent(t, bob) // online_users

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users
	readEvent(t, bob)   // user_online alice

	// A type-mismatched field must produce an error event, not a teardown.
	frame := []byte(`{"type":"send_message","receiver_id":"abc","payload":"ct","iv":"nonce"}`)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame))

	event := readEvent(t, alice)
	require.Equal(t, models.EventError, event["type"])
	assert.Equal(t, "invalid message data", event["error"])

	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// The connection survives and still carries events both ways.
	require.NoError(t, alice.WriteJSON(map[string]any{"type": models.EventTyping, "receiver_id": 2}))
	typing := readEvent(t, bob)
	require.Equal(t, models.EventUserTyping, typing["type"])
	assert.Equal(t, float64(1), typing["user_id"])

	// No offline broadcast either: alice was never torn down.
	expectNoEvent(t, bob)
}

func TestOfflineReceiverStillAcked(t *testing.T) {
	f := newGatewayFixture(t)

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users

	f.messages.On("Create", mock.Anything, 1, 2, "ct", "nonce", "").
		Return(models.Message{ID: 3, SenderID: 1, ReceiverID: 2, Payload: "ct", IV: "nonce"}, nil).Once()
	f.users.On("GetByID", mock.Anything, 1).
		Return(models.User{ID: 1, Username: "alice"}, nil).Once()

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":        models.EventSendMessage,
		"receiver_id": 2,
		"payload":     "ct",
		"iv":          "nonce",
	}))

	ack := readEvent(t, alice)
	require.Equal(t, models.EventMessageSent, ack["type"])
	assert.Equal(t, float64(3), ack["message_id"])
}

func TestTypingReachesOnlyNamedReceiver(t *testing.T) {
	f := newGatewayFixture(t)

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users

	bob := f.dial(t, 2, "bob")
	readEvent(t, bob)   // online_users
	readEvent(t, alice) // user_online bob

	carol := f.dial(t, 3, "carol")
	readEvent(t, carol) // online_users
	readEvent(t, alice) // user_online carol
	readEvent(t, bob)   // user_online carol

	require.NoError(t, alice.WriteJSON(map[string]any{"type": models.EventTyping, "receiver_id": 2}))

	event := readEvent(t, bob)
	require.Equal(t, models.EventUserTyping, event["type"])
	assert.Equal(t, float64(1), event["user_id"])
	assert.Equal(t, "alice", event["username"])

	expectNoEvent(t, carol)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	f := newGatewayFixture(t)

	bob := f.dial(t, 2, "bob")
	readEvent(t, bob) // online_users

	alice := f.dial(t, 1, "alice")
	readEvent(t, alice) // online_users
	readEvent(t, bob)   // user_online alice

	require.NoError(t, alice.Close())

	event := readEvent(t, bob)
	require.Equal(t, models.EventUserOffline, event["type"])
	assert.Equal(t, float64(1), event["user_id"])
}

func TestReconnectClosesSupersededConnection(t *testing.T) {
	f := newGatewayFixture(t)

	first := f.dial(t, 1, "alice")
	readEvent(t, first) // online_users

	second := f.dial(t, 1, "alice")
	readEvent(t, second) // online_users

	// The superseded connection is closed by the server, not left to time out.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "expected server-side close, got read timeout")
	}
}
