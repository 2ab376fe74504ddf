package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pet-society-chat/internal/models"
	"pet-society-chat/internal/observability"
	"pet-society-chat/internal/rabbitmq"
)

// NotificationWSHandler serves a user's personal notification channel:
// a stateless relay of new_chat_created, user_invited and
// chat_message_notification events, plus ping/pong liveness.
type NotificationWSHandler struct {
	broker *Broker
	tokens tokenResolver
	events rabbitmq.Publisher
}

// NewNotificationWSHandler constructs a NotificationWSHandler.
func NewNotificationWSHandler(broker *Broker, tokens tokenResolver, events rabbitmq.Publisher) *NotificationWSHandler {
	return &NotificationWSHandler{broker: broker, tokens: tokens, events: events}
}

// Handle upgrades the connection and subscribes it to the user's
// personal broadcast group. The path user id must belong to the
// authenticated identity.
func (h *NotificationWSHandler) Handle(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	token := tokenFromRequest(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	user, err := h.tokens.ResolveToken(ctx, token)
	if err != nil {
		closeWith(conn, CloseAuthFailure, "authentication required")
		return
	}
	if user.ID != userID {
		closeWith(conn, CloseForbidden, "not your notification channel")
		return
	}

	sub := h.broker.Subscribe(UserGroup(user.ID))
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	observability.IncWSActive("notifications")
	publishWSEvent(ctx, h.events, "notifications", strconv.Itoa(user.ID), "ws_connect", "", info)

	direct := make(chan Event, 8)
	go writePump(conn, sub, direct, user.ID)

	go h.readLoop(conn, sub, direct, info)
}

func (h *NotificationWSHandler) readLoop(conn *websocket.Conn, sub *Subscriber, direct chan Event, info ConnInfo) {
	ctx := context.Background()

	var closeReason string
	defer func() {
		h.broker.Unsubscribe(sub)
		observability.DecWSActive("notifications")
		publishWSEvent(ctx, h.events, "notifications", strconv.Itoa(info.UserID), "ws_disconnect", closeReason, info)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			return
		}

		var inbound models.InboundEvent
		if err := json.Unmarshal(raw, &inbound); err != nil {
			// Only pings are expected here; anything else is ignored.
			continue
		}
		if inbound.Type == models.EventPing {
			ev, err := NewEvent(models.EventPong, 0, models.PongEvent{
				Type:      models.EventPong,
				Timestamp: inbound.Timestamp,
			})
			if err != nil {
				continue
			}
			select {
			case direct <- ev:
			default:
			}
		}
	}
}
