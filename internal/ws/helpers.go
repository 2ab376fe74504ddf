package ws

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Close codes sent before dropping a connection. 4001 matches the
// client's expectation for an authentication failure.
const (
	CloseAuthFailure     = 4001
	CloseForbidden       = 4003
	CloseInternalFailure = 4000
)

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// tokenFromRequest extracts the connection credential: query parameter
// first (browser websocket clients cannot set headers), bearer header
// as fallback.
func tokenFromRequest(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return ""
}

// closeWith sends a close frame with the given code, then closes.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
