package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"whisper-service/internal/models"
	"whisper-service/internal/repositories"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// MessageHandler manages the retained-data read endpoints. Every query is
// bounded by the same horizon the retention sweeper deletes against.
type MessageHandler struct {
	messages repositories.MessageRepository
	horizon  time.Duration
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, horizon time.Duration) *MessageHandler {
	return &MessageHandler{messages: messages, horizon: horizon}
}

// GetConversation returns messages between the caller and another user,
// oldest first for display.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	otherID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	limit := defaultConversationLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}

	userID := c.GetInt("userID")
	msgs, err := h.messages.GetConversation(c.Request.Context(), userID, otherID, limit, h.horizon)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	// Store order is newest first; display order is oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []models.ConversationMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// UnreadCount returns the caller's unread message count inside the horizon.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := c.GetInt("userID")
	count, err := h.messages.UnreadCount(c.Request.Context(), userID, h.horizon)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead flags a message as read for the caller.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	userID := c.GetInt("userID")
	if err := h.messages.MarkRead(c.Request.Context(), messageID, userID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark message read"})
		return
	}
	c.Status(http.StatusNoContent)
}
