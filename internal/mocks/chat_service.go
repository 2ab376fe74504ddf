package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pet-society-chat/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) GetRoom(ctx context.Context, name string) (models.ChatRoom, error) {
	args := m.Called(ctx, name)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Error(1)
}

func (m *ChatServiceMock) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatServiceMock) CreateRoom(ctx context.Context, creator models.User, name string, isPrivate bool, inviteUsernames []string) (models.ChatRoom, []models.User, error) {
	args := m.Called(ctx, creator, name, isPrivate, inviteUsernames)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	var members []models.User
	if val := args.Get(1); val != nil {
		members = val.([]models.User)
	}
	return room, members, args.Error(2)
}

func (m *ChatServiceMock) InviteUser(ctx context.Context, room models.ChatRoom, inviter models.User, username string) (models.User, error) {
	args := m.Called(ctx, room, inviter, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *ChatServiceMock) Join(ctx context.Context, room models.ChatRoom, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) Leave(ctx context.Context, room models.ChatRoom, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, room models.ChatRoom, author models.User, text, imageURL string) (models.MessageView, error) {
	args := m.Called(ctx, room, author, text, imageURL)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, room models.ChatRoom, page, pageSize, beforeMessageID int) ([]models.MessageView, bool, error) {
	args := m.Called(ctx, room, page, pageSize, beforeMessageID)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	return views, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, room models.ChatRoom, userID int) (int, error) {
	args := m.Called(ctx, room, userID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) UnreadCount(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID)
	var rooms []models.RoomSummary
	if val := args.Get(0); val != nil {
		rooms = val.([]models.RoomSummary)
	}
	return rooms, args.Error(1)
}
