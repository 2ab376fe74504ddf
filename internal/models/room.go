package models

import "time"

// ChatRoom is a chat group identified by a stable short name.
type ChatRoom struct {
	ID        int    `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	IsPrivate bool   `db:"is_private" json:"is_private"`
}

// MessagePreview is the last-message summary shown in room listings.
type MessagePreview struct {
	ID      int       `json:"id"`
	Body    string    `json:"body"`
	Author  string    `json:"author"`
	Created time.Time `json:"created"`
}

// RoomSummary is the API-facing view of a room for the current user.
type RoomSummary struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	IsPrivate   bool            `json:"is_private"`
	Members     []User          `json:"members"`
	MemberCount int             `json:"member_count"`
	OnlineCount int             `json:"online_count"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *MessagePreview `json:"last_message"`
}
