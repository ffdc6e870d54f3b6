package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-broker/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID string, until time.Time) ([]models.Message, error) {
	args := m.Called(ctx, roomID, until)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type EmitterMock struct {
	mock.Mock
}

func (m *EmitterMock) Emit(roomID, event string, payload any) (int, error) {
	args := m.Called(roomID, event, payload)
	return args.Int(0), args.Error(1)
}

type FriendNotifierMock struct {
	mock.Mock
}

func (m *FriendNotifierMock) FriendAdded(ctx context.Context, p models.FriendAddedPayload) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

func (m *FriendNotifierMock) FriendRemoved(ctx context.Context, p models.FriendRemovedPayload) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}
