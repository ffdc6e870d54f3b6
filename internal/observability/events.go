package observability

import (
	"context"
	"time"
)

// WSEventsRoutingKey is where websocket lifecycle envelopes are published.
const WSEventsRoutingKey = "ws_events.rooms"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// ConnIdentity describes the connection a lifecycle event refers to.
type ConnIdentity struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// PublishWSEvent counts and publishes a ws_connect / ws_disconnect / ws_error envelope.
func PublishWSEvent(ctx context.Context, event string, id ConnIdentity, reason string) {
	IncWSEvent("room", event)
	var duration int64
	if !id.ConnectedAt.IsZero() && event != "ws_connect" {
		duration = time.Since(id.ConnectedAt).Milliseconds()
	}
	_ = PublishEvent(ctx, WSEventsRoutingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "room",
				"event":       event,
				"conn_id":     id.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   id.UserID,
				"device_id": id.DeviceID,
				"ip":        id.IP,
			},
		},
	}, BuildHeaders(id.RequestID, id.TraceID))
}
