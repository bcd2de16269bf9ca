package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"whisper-service/internal/auth"
	"whisper-service/internal/delivery"
	"whisper-service/internal/models"
	"whisper-service/internal/observability"
)

// Gateway handles websocket connections: it authenticates the handshake,
// registers presence, and dispatches client events to the delivery engine.
type Gateway struct {
	hub    *Hub
	engine *delivery.Engine
	tokens *auth.TokenManager
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, engine *delivery.Engine, tokens *auth.TokenManager) *Gateway {
	return &Gateway{hub: hub, engine: engine, tokens: tokens}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates and upgrades the connection, then registers the
// client. A connection that fails authentication is rejected before any
// presence or message logic runs.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("whisper-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claims, err := g.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s := newSession(conn, claims.UserID, claims.Username)
	s.IP = observability.IPFromRequest(c.Request)
	s.RequestID = observability.RequestIDFromRequest(c.Request)
	s.TraceID = span.SpanContext().TraceID().String()

	if evicted := g.hub.Register(s); evicted != nil {
		// Last connect wins: the superseded connection is closed so it
		// cannot linger as a ghost routing target.
		evicted.Close()
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(ctx, s, "ws_connect", "")

	g.hub.BroadcastExcept(s.UserID, models.PresenceEvent{
		Type:     models.EventUserOnline,
		UserID:   s.UserID,
		Username: s.Username,
	})
	if err := s.Send(models.OnlineUsersEvent{Type: models.EventOnlineUsers, Users: g.hub.Snapshot()}); err != nil {
		log.Printf("websocket write error user=%d: %v", s.UserID, err)
	}

	go g.readLoop(ctx, s)
}

func (g *Gateway) authenticate(c *gin.Context) (auth.Claims, error) {
	token := c.GetHeader("Authorization")
	if token != "" {
		parts := strings.SplitN(token, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return auth.Claims{}, auth.ErrInvalidToken
		}
		token = parts[1]
	} else {
		token = c.Query("token")
	}
	return g.tokens.Verify(token)
}

// readLoop processes events for one connection in arrival order until the
// connection drops, then tears down presence.
func (g *Gateway) readLoop(ctx context.Context, s *Session) {
	var closeReason string
	defer func() {
		s.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishLifecycle(ctx, s, "ws_disconnect", closeReason)

		// Only announce departure when this connection is still the one
		// registered; a superseded connection must not mark the user offline.
		if g.hub.Unregister(s.UserID, s.ConnID) {
			g.hub.BroadcastExcept(s.UserID, models.PresenceEvent{
				Type:   models.EventUserOffline,
				UserID: s.UserID,
			})
		}
	}()

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		// A frame that fails to decode is the client's problem, not the
		// transport's: report it on this connection and keep reading.
		var ev clientEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			observability.IncWSEvent("bad_frame")
			g.sendError(s, delivery.ErrInvalidRequest)
			continue
		}
		g.dispatch(s, ev)
	}
}

// dispatch routes one client event. Per-request failures are converted to
// an error event on the requesting connection and never close it.
func (g *Gateway) dispatch(s *Session, ev clientEvent) {
	switch ev.Type {
	case models.EventSendMessage:
		observability.IncWSEvent("send_message")
		req := models.SendMessageRequest{
			ReceiverID:  ev.ReceiverID,
			Payload:     ev.Payload,
			IV:          ev.IV,
			ClientToken: ev.ClientToken,
		}
		msg, err := g.engine.Send(context.Background(), s.UserID, req)
		if err != nil {
			g.sendError(s, err)
			return
		}
		ack := models.SendAck{
			Type:        models.EventMessageSent,
			Success:     true,
			MessageID:   msg.ID,
			ClientToken: ev.ClientToken,
		}
		if err := s.Send(ack); err != nil {
			log.Printf("websocket write error user=%d: %v", s.UserID, err)
		}

	case models.EventTyping:
		observability.IncWSEvent("typing")
		g.engine.NotifyTyping(s.UserID, s.Username, ev.ReceiverID)

	case models.EventStopTyping:
		observability.IncWSEvent("stop_typing")
		g.engine.NotifyStoppedTyping(s.UserID, ev.ReceiverID)

	default:
		g.sendError(s, errors.New("unknown event type"))
	}
}

func (g *Gateway) sendError(s *Session, err error) {
	message := "failed to send message"
	switch {
	case errors.Is(err, delivery.ErrInvalidRequest):
		message = delivery.ErrInvalidRequest.Error()
	case errors.Is(err, delivery.ErrInconsistent):
		message = delivery.ErrInconsistent.Error()
	case errors.Is(err, delivery.ErrPersistence):
		log.Printf("send failed user=%d: %v", s.UserID, err)
	default:
		message = err.Error()
	}
	if werr := s.Send(models.ErrorEvent{Type: models.EventError, Error: message}); werr != nil {
		log.Printf("websocket write error user=%d: %v", s.UserID, werr)
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, s *Session, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     s.ConnID,
			"duration_ms": time.Since(s.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":  s.UserID,
			"username": s.Username,
			"ip":       s.IP,
		},
	}
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(s.RequestID, s.TraceID))
}
