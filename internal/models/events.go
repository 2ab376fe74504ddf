package models

import "encoding/json"

// Inbound websocket event types. Anything else is rejected with an
// error event back to the sender.
const (
	EventChatMessage = "chat_message"
	EventTyping      = "typing"
	EventPing        = "ping"
)

// Outbound websocket event types.
const (
	EventTypingIndicator         = "typing_indicator"
	EventUserListUpdate          = "user_list_update"
	EventChatMessageNotification = "chat_message_notification"
	EventNewChatCreated          = "new_chat_created"
	EventUserInvited             = "user_invited"
	EventPong                    = "pong"
)

// InboundEvent is the single wire shape clients send over a room or
// notification connection, discriminated by Type.
type InboundEvent struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
	IsTyping  bool            `json:"is_typing,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ChatMessageEvent is broadcast to a room group after a message is
// persisted. Message carries the plaintext body.
type ChatMessageEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ImageURL  string `json:"image_url,omitempty"`
	Username  string `json:"username"`
	UserID    int    `json:"user_id"`
	Timestamp string `json:"timestamp"`
	MessageID int    `json:"message_id"`
}

// TypingIndicatorEvent is relayed to a room group, never back to the
// connection that produced it.
type TypingIndicatorEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	UserID   int    `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// UserListUpdateEvent carries the room's refreshed online-user set.
type UserListUpdateEvent struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

// ChatMessageNotification is delivered to a member's personal group when
// a message lands in one of their rooms.
type ChatMessageNotification struct {
	Type      string `json:"type"`
	ChatID    int    `json:"chat_id"`
	ChatName  string `json:"chat_name"`
	IsPrivate bool   `json:"is_private"`
	Message   string `json:"message"`
	MessageID int    `json:"message_id"`
	Author    User   `json:"author"`
	Timestamp string `json:"timestamp"`
}

// NewChatCreatedEvent notifies members of a room they were just added to.
type NewChatCreatedEvent struct {
	Type      string `json:"type"`
	ChatID    int    `json:"chat_id"`
	ChatName  string `json:"chat_name"`
	IsPrivate bool   `json:"is_private"`
	CreatedBy User   `json:"created_by"`
	Members   []int  `json:"members"`
}

// UserInvitedEvent notifies a user they were invited to a room.
type UserInvitedEvent struct {
	Type      string `json:"type"`
	ChatID    int    `json:"chat_id"`
	ChatName  string `json:"chat_name"`
	IsPrivate bool   `json:"is_private"`
	InvitedBy User   `json:"invited_by"`
}

// ErrorEvent is sent to a single connection when its inbound payload
// cannot be processed. The connection stays open.
type ErrorEvent struct {
	Error string `json:"error"`
}

// PongEvent answers a liveness ping, echoing the client token.
type PongEvent struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}
