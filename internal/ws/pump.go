package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pet-society-chat/internal/models"
	"pet-society-chat/internal/observability"
	"pet-society-chat/internal/rabbitmq"
)

// writePump is the single writer for a connection. It drains the
// broker subscription and the connection's direct-reply channel, so a
// slow peer only ever blocks itself. Typing indicators are never echoed
// back to the connection that produced them.
func writePump(conn *websocket.Conn, sub *Subscriber, direct <-chan Event, selfID int) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				// The broker dropped this subscriber. Closing the
				// connection unblocks the read loop, which runs the
				// disconnect cleanup.
				conn.Close()
				return
			}
			if ev.Type == models.EventTypingIndicator && ev.SenderID == selfID {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, ev.Payload); err != nil {
				// Closing unblocks the read loop, which runs cleanup.
				conn.Close()
				return
			}
		case ev := <-direct:
			if err := conn.WriteMessage(websocket.TextMessage, ev.Payload); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// sendError queues an error event for the offending connection only.
func sendError(direct chan<- Event, text string) {
	ev, err := NewEvent("error", 0, models.ErrorEvent{Error: text})
	if err != nil {
		return
	}
	select {
	case direct <- ev:
	default:
		log.Warn().Msg("direct reply buffer full, error event dropped")
	}
}

// publishWSEvent emits a websocket lifecycle event to the platform
// event bus. Failures are counted, never surfaced to the connection.
func publishWSEvent(ctx context.Context, events rabbitmq.Publisher, kind, resource, name, reason string, info ConnInfo) {
	observability.IncWSEvent(kind, name)
	if events == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource":    resource,
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": info.UserID,
			"ip":      info.IP,
		},
	}
	_ = events.Publish(ctx, "ws_events."+kind, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
