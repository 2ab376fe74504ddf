package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"pet-society-chat/internal/models"
	"pet-society-chat/internal/observability"
	"pet-society-chat/internal/rabbitmq"
	"pet-society-chat/internal/repositories"
)

// tokenResolver maps a connection credential to a user identity.
type tokenResolver interface {
	ResolveToken(ctx context.Context, key string) (models.User, error)
}

// messageSender persists an inbound chat message and fans it out to the
// room and to member notification groups.
type messageSender interface {
	SendMessage(ctx context.Context, room models.ChatRoom, author models.User, text, imageURL string) (models.MessageView, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomWSHandler handles per-room websocket connections: joining,
// inbound chat and typing events, presence, disconnect cleanup.
type RoomWSHandler struct {
	broker *Broker
	rooms  repositories.RoomRepository
	tokens tokenResolver
	chat   messageSender
	events rabbitmq.Publisher
}

// NewRoomWSHandler constructs a RoomWSHandler.
func NewRoomWSHandler(broker *Broker, rooms repositories.RoomRepository, tokens tokenResolver, chat messageSender, events rabbitmq.Publisher) *RoomWSHandler {
	return &RoomWSHandler{broker: broker, rooms: rooms, tokens: tokens, chat: chat, events: events}
}

// Handle upgrades the connection and runs the join sequence: resolve
// identity, ensure the room, subscribe, register presence, broadcast
// the online-user list. Anonymous connections are closed with the
// authentication close code before any room state is touched.
func (h *RoomWSHandler) Handle(c *gin.Context) {
	roomName := c.Param("room_name")

	ctx, span := otel.Tracer("pet-society-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := tokenFromRequest(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	user, err := h.tokens.ResolveToken(ctx, token)
	if err != nil {
		closeWith(conn, CloseAuthFailure, "authentication required")
		return
	}

	room, err := h.rooms.EnsureRoom(ctx, roomName)
	if err != nil {
		log.Error().Err(err).Str("room", roomName).Msg("ensure room failed")
		closeWith(conn, CloseInternalFailure, "room unavailable")
		return
	}

	sub := h.broker.Subscribe(RoomGroup(room.Name))
	if err := h.register(ctx, room, user); err != nil {
		log.Error().Err(err).Str("room", room.Name).Int("user_id", user.ID).Msg("room join failed")
		h.broker.Unsubscribe(sub)
		closeWith(conn, CloseInternalFailure, "join failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	observability.IncWSActive("room")
	publishWSEvent(ctx, h.events, "room", room.Name, "ws_connect", "", info)

	direct := make(chan Event, 8)
	go writePump(conn, sub, direct, user.ID)

	h.broadcastUserList(ctx, room)

	go h.readLoop(conn, sub, direct, room, user, info)
}

// register adds the user to room membership (if new) and the online set.
func (h *RoomWSHandler) register(ctx context.Context, room models.ChatRoom, user models.User) error {
	if err := h.rooms.AddMember(ctx, room.ID, user.ID); err != nil {
		return err
	}
	return h.rooms.SetOnline(ctx, room.ID, user.ID)
}

// readLoop processes inbound events one at a time for this connection.
// Persistence happens on this goroutine, so one connection's slow write
// never stalls delivery to others (each has its own writePump).
func (h *RoomWSHandler) readLoop(conn *websocket.Conn, sub *Subscriber, direct chan Event, room models.ChatRoom, user models.User, info ConnInfo) {
	// The request context dies with the HTTP handler; cleanup and
	// persistence for a long-lived connection must outlive it.
	ctx := context.Background()

	var closeReason string
	defer func() {
		if err := h.rooms.SetOffline(ctx, room.ID, user.ID); err != nil {
			log.Warn().Err(err).Str("room", room.Name).Int("user_id", user.ID).Msg("set offline failed")
		}
		h.broker.Unsubscribe(sub)
		h.broadcastUserList(ctx, room)
		observability.DecWSActive("room")
		publishWSEvent(ctx, h.events, "room", room.Name, "ws_disconnect", closeReason, info)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, h.events, "room", room.Name, "ws_error", closeReason, info)
			}
			return
		}
		h.handleInbound(ctx, raw, room, user, direct)
	}
}

func (h *RoomWSHandler) handleInbound(ctx context.Context, raw []byte, room models.ChatRoom, user models.User, direct chan Event) {
	var inbound models.InboundEvent
	if err := json.Unmarshal(raw, &inbound); err != nil {
		sendError(direct, "Invalid JSON format")
		return
	}

	switch inbound.Type {
	case models.EventChatMessage:
		if _, err := h.chat.SendMessage(ctx, room, user, inbound.Message, inbound.ImageURL); err != nil {
			sendError(direct, "Error processing message: "+err.Error())
			return
		}
		observability.IncWSEvent("room", models.EventChatMessage)

	case models.EventTyping:
		ev, err := NewEvent(models.EventTypingIndicator, user.ID, models.TypingIndicatorEvent{
			Type:     models.EventTypingIndicator,
			Username: user.Username,
			UserID:   user.ID,
			IsTyping: inbound.IsTyping,
		})
		if err != nil {
			return
		}
		h.broker.Publish(RoomGroup(room.Name), ev)
		observability.IncWSEvent("room", models.EventTyping)

	default:
		sendError(direct, "unknown event type")
	}
}

// broadcastUserList publishes the room's refreshed online-user set.
func (h *RoomWSHandler) broadcastUserList(ctx context.Context, room models.ChatRoom) {
	users, err := h.rooms.OnlineUsers(ctx, room.ID)
	if err != nil {
		log.Warn().Err(err).Str("room", room.Name).Msg("load online users failed")
		return
	}
	if users == nil {
		users = []models.OnlineUser{}
	}
	ev, err := NewEvent(models.EventUserListUpdate, 0, models.UserListUpdateEvent{
		Type:  models.EventUserListUpdate,
		Users: users,
	})
	if err != nil {
		return
	}
	h.broker.Publish(RoomGroup(room.Name), ev)
}
