package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pet-society-chat/internal/crypto"
	"pet-society-chat/internal/models"
	"pet-society-chat/internal/repositories"
	"pet-society-chat/internal/ws"
)

// ErrInvalidMessage rejects a chat message that carries neither text
// nor an image, or both at once.
var ErrInvalidMessage = errors.New("message requires text or an image, not both")

// UnknownUsersError reports invitee usernames that do not exist. Room
// creation with any unknown invitee fails as a whole.
type UnknownUsersError struct {
	Usernames []string
}

func (e *UnknownUsersError) Error() string {
	return fmt.Sprintf("unknown users: %s", strings.Join(e.Usernames, ", "))
}

// ChatService is the synchronous API surface behind both the HTTP
// handlers and the websocket connection handlers: room creation and
// membership, message persistence and fan-out, read tracking, history.
type ChatService struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	codec    *crypto.Codec
	broker   *ws.Broker
}

// NewChatService constructs a ChatService.
func NewChatService(rooms repositories.RoomRepository, messages repositories.MessageRepository, users repositories.UserRepository, codec *crypto.Codec, broker *ws.Broker) *ChatService {
	return &ChatService{rooms: rooms, messages: messages, users: users, codec: codec, broker: broker}
}

// GetRoom fetches a room by name.
func (s *ChatService) GetRoom(ctx context.Context, name string) (models.ChatRoom, error) {
	return s.rooms.GetRoom(ctx, name)
}

// IsMember checks room membership.
func (s *ChatService) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	return s.rooms.IsMember(ctx, roomID, userID)
}

// CreateRoom validates every invitee username, then creates the room
// with the creator and invitees as members. Any unknown username fails
// the whole operation with nothing persisted. Creating a private room
// with a single invitee returns the existing private room for that pair
// when one exists. Members other than the creator are notified on their
// personal groups.
func (s *ChatService) CreateRoom(ctx context.Context, creator models.User, name string, isPrivate bool, inviteUsernames []string) (models.ChatRoom, []models.User, error) {
	invitees := make([]models.User, 0, len(inviteUsernames))
	var unknown []string
	seen := map[string]struct{}{creator.Username: {}}
	for _, username := range inviteUsernames {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}
		user, err := s.users.GetByUsername(ctx, username)
		if errors.Is(err, repositories.ErrUserNotFound) {
			unknown = append(unknown, username)
			continue
		}
		if err != nil {
			return models.ChatRoom{}, nil, err
		}
		invitees = append(invitees, user)
	}
	if len(unknown) > 0 {
		return models.ChatRoom{}, nil, &UnknownUsersError{Usernames: unknown}
	}

	members := append([]models.User{creator}, invitees...)

	if isPrivate && len(invitees) == 1 {
		room, err := s.rooms.FindPrivateRoom(ctx, creator.ID, invitees[0].ID)
		if err == nil {
			return room, members, nil
		}
		if !errors.Is(err, repositories.ErrRoomNotFound) {
			return models.ChatRoom{}, nil, err
		}
	}

	if name == "" {
		name = uuid.NewString()
	}

	memberIDs := make([]int, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}

	room, err := s.rooms.CreateRoom(ctx, name, isPrivate, memberIDs)
	if err != nil {
		return models.ChatRoom{}, nil, err
	}

	for _, invitee := range invitees {
		ev, err := ws.NewEvent(models.EventNewChatCreated, creator.ID, models.NewChatCreatedEvent{
			Type:      models.EventNewChatCreated,
			ChatID:    room.ID,
			ChatName:  room.Name,
			IsPrivate: room.IsPrivate,
			CreatedBy: creator,
			Members:   memberIDs,
		})
		if err != nil {
			continue
		}
		s.broker.Publish(ws.UserGroup(invitee.ID), ev)
	}
	return room, members, nil
}

// InviteUser adds an existing user to the room and notifies them.
func (s *ChatService) InviteUser(ctx context.Context, room models.ChatRoom, inviter models.User, username string) (models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return models.User{}, err
	}
	if err := s.rooms.AddMember(ctx, room.ID, user.ID); err != nil {
		return models.User{}, err
	}

	ev, err := ws.NewEvent(models.EventUserInvited, inviter.ID, models.UserInvitedEvent{
		Type:      models.EventUserInvited,
		ChatID:    room.ID,
		ChatName:  room.Name,
		IsPrivate: room.IsPrivate,
		InvitedBy: inviter,
	})
	if err == nil {
		s.broker.Publish(ws.UserGroup(user.ID), ev)
	}
	return user, nil
}

// Join adds the user to room membership.
func (s *ChatService) Join(ctx context.Context, room models.ChatRoom, userID int) error {
	return s.rooms.AddMember(ctx, room.ID, userID)
}

// Leave removes the user from membership and the online set. Message
// history is untouched.
func (s *ChatService) Leave(ctx context.Context, room models.ChatRoom, userID int) error {
	if err := s.rooms.RemoveMember(ctx, room.ID, userID); err != nil {
		return err
	}
	return s.rooms.SetOffline(ctx, room.ID, userID)
}

// SendMessage validates, encrypts, persists and fans out a message: a
// chat_message event to the room group, then a chat_message_notification
// to every other member's personal group. Notification delivery is
// best-effort; a failure for one member never blocks the rest.
func (s *ChatService) SendMessage(ctx context.Context, room models.ChatRoom, author models.User, text, imageURL string) (models.MessageView, error) {
	text = strings.TrimSpace(text)
	if (text == "") == (imageURL == "") {
		return models.MessageView{}, ErrInvalidMessage
	}

	kind := models.KindText
	body := ""
	encrypted := false
	if text != "" {
		sealed, err := s.codec.Encrypt(text)
		if err != nil {
			// Encryption failure degrades to plaintext storage, flagged.
			log.Warn().Err(err).Str("room", room.Name).Msg("message encryption failed, storing plaintext")
			body = text
		} else {
			body = sealed
			encrypted = true
		}
	} else {
		kind = models.KindImage
	}

	msg, err := s.messages.Create(ctx, room.ID, author.ID, kind, body, encrypted, imageURL)
	if err != nil {
		return models.MessageView{}, err
	}

	timestamp := msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	ev, err := ws.NewEvent(models.EventChatMessage, author.ID, models.ChatMessageEvent{
		Type:      models.EventChatMessage,
		Message:   text,
		ImageURL:  imageURL,
		Username:  author.Username,
		UserID:    author.ID,
		Timestamp: timestamp,
		MessageID: msg.ID,
	})
	if err == nil {
		s.broker.Publish(ws.RoomGroup(room.Name), ev)
	}

	s.notifyMembers(ctx, room, author, msg.ID, text, timestamp)

	return models.MessageView{
		ID:        msg.ID,
		Kind:      msg.Kind,
		Body:      text,
		ImageURL:  msg.ImageURL,
		Author:    author,
		CreatedAt: msg.CreatedAt,
	}, nil
}

func (s *ChatService) notifyMembers(ctx context.Context, room models.ChatRoom, author models.User, messageID int, text, timestamp string) {
	memberIDs, err := s.rooms.MemberIDs(ctx, room.ID)
	if err != nil {
		log.Warn().Err(err).Str("room", room.Name).Msg("load members for notification failed")
		return
	}
	for _, id := range memberIDs {
		if id == author.ID {
			continue
		}
		ev, err := ws.NewEvent(models.EventChatMessageNotification, author.ID, models.ChatMessageNotification{
			Type:      models.EventChatMessageNotification,
			ChatID:    room.ID,
			ChatName:  room.Name,
			IsPrivate: room.IsPrivate,
			Message:   text,
			MessageID: messageID,
			Author:    author,
			Timestamp: timestamp,
		})
		if err != nil {
			continue
		}
		s.broker.Publish(ws.UserGroup(id), ev)
	}
}

// ListMessages returns one page of room history, newest first, bodies
// decrypted. When beforeMessageID is non-zero the page holds only
// messages strictly older than that message; page and pageSize then
// apply to the filtered set. The second return reports whether older
// messages remain.
func (s *ChatService) ListMessages(ctx context.Context, room models.ChatRoom, page, pageSize, beforeMessageID int) ([]models.MessageView, bool, error) {
	if page < 1 {
		page = 1
	}
	if beforeMessageID != 0 {
		cursor, err := s.messages.Get(ctx, beforeMessageID)
		if err != nil {
			return nil, false, err
		}
		if cursor.RoomID != room.ID {
			return nil, false, repositories.ErrMessageNotFound
		}
	}

	offset := (page - 1) * pageSize
	msgs, err := s.messages.ListPage(ctx, room.ID, beforeMessageID, pageSize+1, offset)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) > pageSize
	if hasMore {
		msgs = msgs[:pageSize]
	}

	views, err := s.toViews(ctx, msgs)
	return views, hasMore, err
}

func (s *ChatService) toViews(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	authorIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.AuthorID]; !ok {
			seen[m.AuthorID] = struct{}{}
			authorIDs = append(authorIDs, m.AuthorID)
		}
	}
	authors, err := s.users.ByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	authorByID := map[int]models.User{}
	for _, u := range authors {
		authorByID[u.ID] = u
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		body := ""
		if m.Kind == models.KindText {
			body = s.codec.Reveal(m.Body, m.IsEncrypted)
		}
		views = append(views, models.MessageView{
			ID:        m.ID,
			Kind:      m.Kind,
			Body:      body,
			ImageURL:  m.ImageURL,
			Author:    authorByID[m.AuthorID],
			CreatedAt: m.CreatedAt,
		})
	}
	return views, nil
}

// MarkRead lazily creates read markers for the user and reports how
// many messages were newly marked.
func (s *ChatService) MarkRead(ctx context.Context, room models.ChatRoom, userID int) (int, error) {
	return s.messages.MarkRead(ctx, room.ID, userID)
}

// UnreadCount totals unread messages for the user across their rooms.
func (s *ChatService) UnreadCount(ctx context.Context, userID int) (int, error) {
	return s.messages.UnreadCount(ctx, userID)
}

// ListRooms returns each of the user's rooms with member list, online
// count, unread count and a decrypted last-message preview.
func (s *ChatService) ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	rooms, err := s.rooms.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		memberIDs, err := s.rooms.MemberIDs(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		members, err := s.users.ByIDs(ctx, memberIDs)
		if err != nil {
			return nil, err
		}
		online, err := s.rooms.OnlineUsers(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		unread, err := s.messages.UnreadCountForRoom(ctx, room.ID, userID)
		if err != nil {
			return nil, err
		}

		summary := models.RoomSummary{
			ID:          room.ID,
			Name:        room.Name,
			IsPrivate:   room.IsPrivate,
			Members:     members,
			MemberCount: len(members),
			OnlineCount: len(online),
			UnreadCount: unread,
		}

		last, err := s.messages.LastMessage(ctx, room.ID)
		switch {
		case err == nil:
			preview := s.codec.Reveal(last.Body, last.IsEncrypted)
			if last.Kind == models.KindImage {
				preview = "[image]"
			}
			authorName := ""
			for _, m := range members {
				if m.ID == last.AuthorID {
					authorName = m.Username
					break
				}
			}
			summary.LastMessage = &models.MessagePreview{
				ID:      last.ID,
				Body:    preview,
				Author:  authorName,
				Created: last.CreatedAt,
			}
		case errors.Is(err, repositories.ErrMessageNotFound):
			// empty room
		default:
			return nil, err
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}
