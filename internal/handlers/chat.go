package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pet-society-chat/internal/config"
	"pet-society-chat/internal/models"
	"pet-society-chat/internal/repositories"
	"pet-society-chat/internal/service"
	"pet-society-chat/internal/telemetry"
)

// chatService is the surface of the chat group service the HTTP layer
// consumes.
type chatService interface {
	GetRoom(ctx context.Context, name string) (models.ChatRoom, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	CreateRoom(ctx context.Context, creator models.User, name string, isPrivate bool, inviteUsernames []string) (models.ChatRoom, []models.User, error)
	InviteUser(ctx context.Context, room models.ChatRoom, inviter models.User, username string) (models.User, error)
	Join(ctx context.Context, room models.ChatRoom, userID int) error
	Leave(ctx context.Context, room models.ChatRoom, userID int) error
	SendMessage(ctx context.Context, room models.ChatRoom, author models.User, text, imageURL string) (models.MessageView, error)
	ListMessages(ctx context.Context, room models.ChatRoom, page, pageSize, beforeMessageID int) ([]models.MessageView, bool, error)
	MarkRead(ctx context.Context, room models.ChatRoom, userID int) (int, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error)
}

// ChatGroupHandler serves the chat group REST endpoints.
type ChatGroupHandler struct {
	chat  chatService
	pages config.ChatConfig
	audit *telemetry.AuditEmitter
}

// NewChatGroupHandler builds a ChatGroupHandler.
func NewChatGroupHandler(chat chatService, pages config.ChatConfig, audit *telemetry.AuditEmitter) *ChatGroupHandler {
	return &ChatGroupHandler{chat: chat, pages: pages, audit: audit}
}

// ListGroups returns the authenticated user's rooms with previews and
// unread counts.
func (h *ChatGroupHandler) ListGroups(c *gin.Context) {
	userID := c.GetInt("userID")

	rooms, err := h.chat.ListRooms(c.Request.Context(), userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat groups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": rooms})
}

// CreateGroup creates a chat group with the given invitees. Any unknown
// invitee username fails the whole request with nothing created.
func (h *ChatGroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name        string   `json:"name"`
		IsPrivate   bool     `json:"is_private"`
		InviteUser  string   `json:"invite_user"`
		InviteUsers []string `json:"invite_users"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Clients send either a single invitee or a list; both are accepted.
	invitees := req.InviteUsers
	if req.InviteUser != "" {
		invitees = append(invitees, req.InviteUser)
	}

	creator := currentUser(c)
	room, members, err := h.chat.CreateRoom(c.Request.Context(), creator, req.Name, req.IsPrivate, invitees)
	if err != nil {
		var unknown *service.UnknownUsersError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": "users not found", "usernames": unknown.Usernames})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat group"})
		return
	}

	h.emitAudit(c, "INFO", "Chat group created")
	c.JSON(http.StatusCreated, gin.H{
		"id":         room.ID,
		"name":       room.Name,
		"is_private": room.IsPrivate,
		"members":    members,
	})
}

// JoinGroup adds the authenticated user to the room.
func (h *ChatGroupHandler) JoinGroup(c *gin.Context) {
	room, ok := h.roomFromPath(c)
	if !ok {
		return
	}

	if err := h.chat.Join(c.Request.Context(), room, c.GetInt("userID")); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join chat group"})
		return
	}

	h.emitAudit(c, "INFO", "Joined chat group")
	c.JSON(http.StatusOK, gin.H{"status": "joined", "name": room.Name})
}

// LeaveGroup removes the authenticated user from the room. Message
// history is preserved.
func (h *ChatGroupHandler) LeaveGroup(c *gin.Context) {
	room, ok := h.roomFromPath(c)
	if !ok {
		return
	}

	if err := h.chat.Leave(c.Request.Context(), room, c.GetInt("userID")); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not leave chat group"})
		return
	}

	h.emitAudit(c, "INFO", "Left chat group")
	c.JSON(http.StatusOK, gin.H{"status": "left", "name": room.Name})
}

// InviteUser adds another user to the room by username.
func (h *ChatGroupHandler) InviteUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, ok := h.memberRoomFromPath(c)
	if !ok {
		return
	}

	user, err := h.chat.InviteUser(c.Request.Context(), room, currentUser(c), req.Username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not invite user"})
		return
	}

	h.emitAudit(c, "INFO", "User invited to chat group")
	c.JSON(http.StatusOK, gin.H{"status": "invited", "user": user})
}

// GetMessages returns one page of room history, newest first.
func (h *ChatGroupHandler) GetMessages(c *gin.Context) {
	room, ok := h.memberRoomFromPath(c)
	if !ok {
		return
	}

	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", h.pages.DefaultPageSize)
	if pageSize < 1 {
		pageSize = h.pages.DefaultPageSize
	}
	if pageSize > h.pages.MaxPageSize {
		pageSize = h.pages.MaxPageSize
	}
	beforeID := intQuery(c, "before_message_id", 0)

	messages, hasMore, err := h.chat.ListMessages(c.Request.Context(), room, page, pageSize, beforeID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_message_id"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"page":     page,
		"has_more": hasMore,
	})
}

// SendMessage persists a message over HTTP and fans it out exactly as a
// websocket chat_message would.
func (h *ChatGroupHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message  string `json:"message"`
		ImageURL string `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, ok := h.memberRoomFromPath(c)
	if !ok {
		return
	}

	view, err := h.chat.SendMessage(c.Request.Context(), room, currentUser(c), req.Message, req.ImageURL)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": view})
}

// MarkRead marks every message in the room as read for the user and
// reports how many were newly marked.
func (h *ChatGroupHandler) MarkRead(c *gin.Context) {
	room, ok := h.memberRoomFromPath(c)
	if !ok {
		return
	}

	marked, err := h.chat.MarkRead(c.Request.Context(), room, c.GetInt("userID"))
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark messages read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages_marked": marked})
}

// UnreadCount totals unread messages across the user's rooms.
func (h *ChatGroupHandler) UnreadCount(c *gin.Context) {
	count, err := h.chat.UnreadCount(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load unread count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// roomFromPath resolves the :room_name path parameter. It writes the
// error response itself when the room does not exist.
func (h *ChatGroupHandler) roomFromPath(c *gin.Context) (models.ChatRoom, bool) {
	room, err := h.chat.GetRoom(c.Request.Context(), c.Param("room_name"))
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat group not found"})
			return models.ChatRoom{}, false
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat group"})
		return models.ChatRoom{}, false
	}
	return room, true
}

// memberRoomFromPath is roomFromPath plus a membership check for the
// authenticated user.
func (h *ChatGroupHandler) memberRoomFromPath(c *gin.Context) (models.ChatRoom, bool) {
	room, ok := h.roomFromPath(c)
	if !ok {
		return models.ChatRoom{}, false
	}

	member, err := h.chat.IsMember(c.Request.Context(), room.ID, c.GetInt("userID"))
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return models.ChatRoom{}, false
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat group member"})
		return models.ChatRoom{}, false
	}
	return room, true
}

func (h *ChatGroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func currentUser(c *gin.Context) models.User {
	if val, ok := c.Get("user"); ok {
		if user, ok := val.(models.User); ok {
			return user
		}
	}
	return models.User{ID: c.GetInt("userID")}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
