package ws

import "time"

// ConnInfo captures connection identity for websocket lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
