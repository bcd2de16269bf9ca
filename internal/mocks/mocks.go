package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"whisper-service/internal/models"
	"whisper-service/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Create(ctx context.Context, username, email, passwordHash string) (models.User, error) {
	args := m.Called(ctx, username, email, passwordHash)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByID(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdatePublicKey(ctx context.Context, userID int, publicKey string) error {
	args := m.Called(ctx, userID, publicKey)
	return args.Error(0)
}

func (m *UserRepositoryMock) ListOthers(ctx context.Context, excludeUserID int) ([]models.User, error) {
	args := m.Called(ctx, excludeUserID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, senderID, receiverID int, payload, iv, clientToken string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, payload, iv, clientToken)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetConversation(ctx context.Context, userID, otherUserID, limit int, horizon time.Duration) ([]models.ConversationMessage, error) {
	args := m.Called(ctx, userID, otherUserID, limit, horizon)
	var msgs []models.ConversationMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ConversationMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, userID int, horizon time.Duration) (int, error) {
	args := m.Called(ctx, userID, horizon)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	args := m.Called(ctx, horizon)
	return args.Get(0).(int64), args.Error(1)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
