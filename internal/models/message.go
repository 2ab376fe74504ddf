package models

import "time"

// Message kinds. A text message stores an encrypted body; an image
// message stores only the image reference.
const (
	KindText  = "text"
	KindImage = "image"
)

// Message is a stored chat message. Body holds ciphertext when
// IsEncrypted is true, plaintext otherwise (encryption fallback path).
// Messages are immutable once created.
type Message struct {
	ID          int       `db:"id" json:"id"`
	RoomID      int       `db:"room_id" json:"room_id"`
	AuthorID    int       `db:"author_id" json:"author_id"`
	Kind        string    `db:"kind" json:"kind"`
	Body        string    `db:"body" json:"-"`
	IsEncrypted bool      `db:"is_encrypted" json:"-"`
	ImageURL    string    `db:"image_url" json:"image_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created"`
}

// MessageView is a message with its body decrypted and author resolved,
// ready for serialization to a client.
type MessageView struct {
	ID        int       `json:"id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Author    User      `json:"author"`
	CreatedAt time.Time `json:"created"`
}
