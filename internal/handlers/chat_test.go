package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pet-society-chat/internal/config"
	"pet-society-chat/internal/mocks"
	"pet-society-chat/internal/models"
	"pet-society-chat/internal/repositories"
	"pet-society-chat/internal/service"
)

var testPages = config.ChatConfig{DefaultPageSize: 20, MaxPageSize: 100}

func setupChatRouter(handler *ChatGroupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Set("user", models.User{ID: 1, Username: "alice"})
		c.Next()
	})
	r.GET("/api/chats/groups", handler.ListGroups)
	r.POST("/api/chats/groups", handler.CreateGroup)
	r.POST("/api/chats/groups/:room_name/join", handler.JoinGroup)
	r.POST("/api/chats/groups/:room_name/leave", handler.LeaveGroup)
	r.POST("/api/chats/groups/:room_name/invite", handler.InviteUser)
	r.GET("/api/chats/groups/:room_name/messages", handler.GetMessages)
	r.POST("/api/chats/groups/:room_name/messages", handler.SendMessage)
	r.POST("/api/chats/groups/:room_name/read", handler.MarkRead)
	r.GET("/api/chats/unread-count", handler.UnreadCount)
	return r
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListGroupsSuccess(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	chat.On("ListRooms", mock.Anything, 1).Return([]models.RoomSummary{
		{ID: 10, Name: "park", MemberCount: 2, UnreadCount: 3},
	}, nil).Once()

	rec := doRequest(t, router, http.MethodGet, "/api/chats/groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Groups []models.RoomSummary `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Groups, 1)
	require.Equal(t, "park", resp.Groups[0].Name)
	chat.AssertExpectations(t)
}

func TestCreateGroupSuccess(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 5, Name: "walkers"}
	members := []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	chat.On("CreateRoom", mock.Anything, models.User{ID: 1, Username: "alice"}, "walkers", false, []string{"bob"}).
		Return(room, members, nil).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups", `{"name":"walkers","invite_users":["bob"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"walkers"`)
	chat.AssertExpectations(t)
}

func TestCreateGroupSingleInvitee(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 6, Name: "pair", IsPrivate: true}
	chat.On("CreateRoom", mock.Anything, mock.Anything, "", true, []string{"bob"}).
		Return(room, []models.User{{ID: 1}, {ID: 2}}, nil).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups", `{"is_private":true,"invite_user":"bob"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	chat.AssertExpectations(t)
}

func TestCreateGroupUnknownUsers(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	chat.On("CreateRoom", mock.Anything, mock.Anything, "walkers", false, []string{"ghost"}).
		Return(models.ChatRoom{}, nil, &service.UnknownUsersError{Usernames: []string{"ghost"}}).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups", `{"name":"walkers","invite_users":["ghost"]}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"ghost"`)
}

func TestCreateGroupInvalidBody(t *testing.T) {
	router := setupChatRouter(NewChatGroupHandler(new(mocks.ChatServiceMock), testPages, nil))

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups", `{"name":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinGroupNotFound(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	chat.On("GetRoom", mock.Anything, "ghost-town").Return(models.ChatRoom{}, repositories.ErrRoomNotFound).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/ghost-town/join", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaveGroupSuccess(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("Leave", mock.Anything, room, 1).Return(nil).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/park/leave", "")
	require.Equal(t, http.StatusOK, rec.Code)
	chat.AssertExpectations(t)
}

func TestGetMessagesForbiddenForNonMember(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(false, nil).Once()

	rec := doRequest(t, router, http.MethodGet, "/api/chats/groups/park/messages", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	chat.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMessagesClampsPageSize(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("ListMessages", mock.Anything, room, 2, 100, 55).
		Return([]models.MessageView{}, false, nil).Once()

	rec := doRequest(t, router, http.MethodGet, "/api/chats/groups/park/messages?page=2&page_size=5000&before_message_id=55", "")
	require.Equal(t, http.StatusOK, rec.Code)
	chat.AssertExpectations(t)
}

func TestGetMessagesBadCursor(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("ListMessages", mock.Anything, room, 1, 20, 99).
		Return(nil, false, repositories.ErrMessageNotFound).Once()

	rec := doRequest(t, router, http.MethodGet, "/api/chats/groups/park/messages?before_message_id=99", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageSuccess(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("SendMessage", mock.Anything, room, models.User{ID: 1, Username: "alice"}, "walkies?", "").
		Return(models.MessageView{ID: 7, Kind: models.KindText, Body: "walkies?"}, nil).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/park/messages", `{"message":"walkies?"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	chat.AssertExpectations(t)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("SendMessage", mock.Anything, room, mock.Anything, "", "").
		Return(models.MessageView{}, service.ErrInvalidMessage).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/park/messages", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInviteUserNotFound(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("InviteUser", mock.Anything, room, mock.Anything, "ghost").
		Return(models.User{}, repositories.ErrUserNotFound).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/park/invite", `{"username":"ghost"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkReadReturnsCount(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	room := models.ChatRoom{ID: 10, Name: "park"}
	chat.On("GetRoom", mock.Anything, "park").Return(room, nil).Once()
	chat.On("IsMember", mock.Anything, 10, 1).Return(true, nil).Once()
	chat.On("MarkRead", mock.Anything, room, 1).Return(4, nil).Once()

	rec := doRequest(t, router, http.MethodPost, "/api/chats/groups/park/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"messages_marked":4`)
}

func TestUnreadCountSuccess(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatGroupHandler(chat, testPages, nil))

	chat.On("UnreadCount", mock.Anything, 1).Return(12, nil).Once()

	rec := doRequest(t, router, http.MethodGet, "/api/chats/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"unread_count":12`)
}
