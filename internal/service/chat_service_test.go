package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pet-society-chat/internal/crypto"
	"pet-society-chat/internal/mocks"
	"pet-society-chat/internal/models"
	"pet-society-chat/internal/repositories"
	"pet-society-chat/internal/ws"
)

type serviceFixture struct {
	rooms    *mocks.RoomRepositoryMock
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	codec    *crypto.Codec
	broker   *ws.Broker
	svc      *ChatService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	codec, err := crypto.NewCodec("")
	require.NoError(t, err)

	f := &serviceFixture{
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		codec:    codec,
		broker:   ws.NewBroker(),
	}
	f.svc = NewChatService(f.rooms, f.messages, f.users, codec, f.broker)
	return f
}

func recvEvent(t *testing.T, sub *ws.Subscriber) ws.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ws.Event{}
	}
}

func expectNoEvent(t *testing.T, sub *ws.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateRoomUnknownInviteeFailsWhole(t *testing.T) {
	f := newServiceFixture(t)
	creator := models.User{ID: 1, Username: "alice"}

	f.users.On("GetByUsername", mock.Anything, "bob").Return(models.User{ID: 2, Username: "bob"}, nil)
	f.users.On("GetByUsername", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound)

	_, _, err := f.svc.CreateRoom(context.Background(), creator, "walkers", false, []string{"bob", "ghost"})

	var unknown *UnknownUsersError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, []string{"ghost"}, unknown.Usernames)
	f.rooms.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRoomPrivatePairReturnsExisting(t *testing.T) {
	f := newServiceFixture(t)
	creator := models.User{ID: 1, Username: "alice"}
	existing := models.ChatRoom{ID: 42, Name: "a1b2", IsPrivate: true}

	f.users.On("GetByUsername", mock.Anything, "bob").Return(models.User{ID: 2, Username: "bob"}, nil)
	f.rooms.On("FindPrivateRoom", mock.Anything, 1, 2).Return(existing, nil).Once()

	room, members, err := f.svc.CreateRoom(context.Background(), creator, "", true, []string{"bob"})
	require.NoError(t, err)
	require.Equal(t, existing, room)
	require.Len(t, members, 2)
	f.rooms.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRoomGeneratesNameAndNotifiesInvitees(t *testing.T) {
	f := newServiceFixture(t)
	creator := models.User{ID: 1, Username: "alice"}
	created := models.ChatRoom{ID: 5, Name: "generated", IsPrivate: false}

	f.users.On("GetByUsername", mock.Anything, "bob").Return(models.User{ID: 2, Username: "bob"}, nil)
	f.rooms.On("CreateRoom", mock.Anything, mock.MatchedBy(func(name string) bool { return name != "" }), false, []int{1, 2}).
		Return(created, nil).Once()

	bobInbox := f.broker.Subscribe(ws.UserGroup(2))
	defer f.broker.Unsubscribe(bobInbox)
	aliceInbox := f.broker.Subscribe(ws.UserGroup(1))
	defer f.broker.Unsubscribe(aliceInbox)

	room, members, err := f.svc.CreateRoom(context.Background(), creator, "", false, []string{"bob"})
	require.NoError(t, err)
	require.Equal(t, created, room)
	require.Len(t, members, 2)

	ev := recvEvent(t, bobInbox)
	require.Equal(t, models.EventNewChatCreated, ev.Type)
	expectNoEvent(t, aliceInbox)
	f.rooms.AssertExpectations(t)
}

func TestSendMessageFanout(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}
	alice := models.User{ID: 1, Username: "alice"}
	now := time.Now()

	f.messages.On("Create", mock.Anything, 10, 1, models.KindText, mock.Anything, true, "").
		Return(models.Message{ID: 7, RoomID: 10, AuthorID: 1, Kind: models.KindText, IsEncrypted: true, CreatedAt: now}, nil).Once()
	f.rooms.On("MemberIDs", mock.Anything, 10).Return([]int{1, 2}, nil).Once()

	roomSub := f.broker.Subscribe(ws.RoomGroup("park"))
	defer f.broker.Unsubscribe(roomSub)
	bobInbox := f.broker.Subscribe(ws.UserGroup(2))
	defer f.broker.Unsubscribe(bobInbox)
	aliceInbox := f.broker.Subscribe(ws.UserGroup(1))
	defer f.broker.Unsubscribe(aliceInbox)

	view, err := f.svc.SendMessage(context.Background(), room, alice, "  walkies?  ", "")
	require.NoError(t, err)
	require.Equal(t, 7, view.ID)
	require.Equal(t, "walkies?", view.Body)
	require.Equal(t, alice, view.Author)

	roomEv := recvEvent(t, roomSub)
	require.Equal(t, models.EventChatMessage, roomEv.Type)
	require.Equal(t, 1, roomEv.SenderID)
	require.Contains(t, string(roomEv.Payload), `"walkies?"`)

	notif := recvEvent(t, bobInbox)
	require.Equal(t, models.EventChatMessageNotification, notif.Type)
	require.Contains(t, string(notif.Payload), `"park"`)

	// The author never receives their own notification.
	expectNoEvent(t, aliceInbox)
	f.messages.AssertExpectations(t)
}

func TestSendMessageRequiresTextOrImage(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}
	alice := models.User{ID: 1, Username: "alice"}

	_, err := f.svc.SendMessage(context.Background(), room, alice, "   ", "")
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.svc.SendMessage(context.Background(), room, alice, "hi", "https://img.example/1.png")
	require.ErrorIs(t, err, ErrInvalidMessage)

	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageImageOnly(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}
	alice := models.User{ID: 1, Username: "alice"}

	f.messages.On("Create", mock.Anything, 10, 1, models.KindImage, "", false, "https://img.example/1.png").
		Return(models.Message{ID: 8, RoomID: 10, AuthorID: 1, Kind: models.KindImage, ImageURL: "https://img.example/1.png", CreatedAt: time.Now()}, nil).Once()
	f.rooms.On("MemberIDs", mock.Anything, 10).Return([]int{1}, nil).Once()

	view, err := f.svc.SendMessage(context.Background(), room, alice, "", "https://img.example/1.png")
	require.NoError(t, err)
	require.Equal(t, models.KindImage, view.Kind)
	require.Empty(t, view.Body)
	f.messages.AssertExpectations(t)
}

func TestListMessagesPaginationAndDecryption(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}

	sealed, err := f.codec.Encrypt("second")
	require.NoError(t, err)

	stored := []models.Message{
		{ID: 3, RoomID: 10, AuthorID: 2, Kind: models.KindText, Body: "third plain", IsEncrypted: false},
		{ID: 2, RoomID: 10, AuthorID: 1, Kind: models.KindText, Body: sealed, IsEncrypted: true},
		{ID: 1, RoomID: 10, AuthorID: 1, Kind: models.KindText, Body: "garbage", IsEncrypted: true},
	}
	f.messages.On("ListPage", mock.Anything, 10, 0, 3, 0).Return(stored, nil).Once()
	f.users.On("ByIDs", mock.Anything, []int{2, 1}).Return([]models.User{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
	}, nil).Once()

	views, hasMore, err := f.svc.ListMessages(context.Background(), room, 1, 2, 0)
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Len(t, views, 2)
	require.Equal(t, "third plain", views[0].Body)
	require.Equal(t, "bob", views[0].Author.Username)
	require.Equal(t, "second", views[1].Body)
	f.messages.AssertExpectations(t)
}

func TestListMessagesUnreadableBodyPlaceholder(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}

	stored := []models.Message{
		{ID: 1, RoomID: 10, AuthorID: 1, Kind: models.KindText, Body: "not a ciphertext", IsEncrypted: true},
	}
	f.messages.On("ListPage", mock.Anything, 10, 0, 21, 0).Return(stored, nil).Once()
	f.users.On("ByIDs", mock.Anything, []int{1}).Return([]models.User{{ID: 1, Username: "alice"}}, nil).Once()

	views, hasMore, err := f.svc.ListMessages(context.Background(), room, 1, 20, 0)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Equal(t, crypto.Placeholder, views[0].Body)
}

func TestListMessagesRejectsForeignCursor(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}

	f.messages.On("Get", mock.Anything, 99).Return(models.Message{ID: 99, RoomID: 11}, nil).Once()

	_, _, err := f.svc.ListMessages(context.Background(), room, 1, 20, 99)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	f.messages.AssertNotCalled(t, "ListPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadReportsNewlyMarked(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}

	f.messages.On("MarkRead", mock.Anything, 10, 2).Return(4, nil).Once()
	marked, err := f.svc.MarkRead(context.Background(), room, 2)
	require.NoError(t, err)
	require.Equal(t, 4, marked)

	// Marking again finds nothing new.
	f.messages.On("MarkRead", mock.Anything, 10, 2).Return(0, nil).Once()
	marked, err = f.svc.MarkRead(context.Background(), room, 2)
	require.NoError(t, err)
	require.Equal(t, 0, marked)
}

func TestInviteUserUnknownUsername(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}
	alice := models.User{ID: 1, Username: "alice"}

	f.users.On("GetByUsername", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound).Once()

	_, err := f.svc.InviteUser(context.Background(), room, alice, "ghost")
	require.ErrorIs(t, err, repositories.ErrUserNotFound)
	f.rooms.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestListRoomsSummaries(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park", IsPrivate: false}
	sealed, err := f.codec.Encrypt("see you at the park")
	require.NoError(t, err)

	f.rooms.On("RoomsForUser", mock.Anything, 1).Return([]models.ChatRoom{room}, nil).Once()
	f.rooms.On("MemberIDs", mock.Anything, 10).Return([]int{1, 2}, nil).Once()
	f.users.On("ByIDs", mock.Anything, []int{1, 2}).Return([]models.User{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
	}, nil).Once()
	f.rooms.On("OnlineUsers", mock.Anything, 10).Return([]models.OnlineUser{{ID: 2, Username: "bob"}}, nil).Once()
	f.messages.On("UnreadCountForRoom", mock.Anything, 10, 1).Return(3, nil).Once()
	f.messages.On("LastMessage", mock.Anything, 10).
		Return(models.Message{ID: 9, RoomID: 10, AuthorID: 2, Kind: models.KindText, Body: sealed, IsEncrypted: true}, nil).Once()

	summaries, err := f.svc.ListRooms(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	summary := summaries[0]
	require.Equal(t, "park", summary.Name)
	require.Equal(t, 2, summary.MemberCount)
	require.Equal(t, 1, summary.OnlineCount)
	require.Equal(t, 3, summary.UnreadCount)
	require.NotNil(t, summary.LastMessage)
	require.Equal(t, "see you at the park", summary.LastMessage.Body)
	require.Equal(t, "bob", summary.LastMessage.Author)
}

func TestListRoomsEmptyRoomHasNoPreview(t *testing.T) {
	f := newServiceFixture(t)
	room := models.ChatRoom{ID: 10, Name: "park"}

	f.rooms.On("RoomsForUser", mock.Anything, 1).Return([]models.ChatRoom{room}, nil).Once()
	f.rooms.On("MemberIDs", mock.Anything, 10).Return([]int{1}, nil).Once()
	f.users.On("ByIDs", mock.Anything, []int{1}).Return([]models.User{{ID: 1, Username: "alice"}}, nil).Once()
	f.rooms.On("OnlineUsers", mock.Anything, 10).Return([]models.OnlineUser{}, nil).Once()
	f.messages.On("UnreadCountForRoom", mock.Anything, 10, 1).Return(0, nil).Once()
	f.messages.On("LastMessage", mock.Anything, 10).Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	summaries, err := f.svc.ListRooms(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, summaries[0].LastMessage)
}
