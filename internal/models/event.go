package models

import (
	"encoding/json"
	"time"
)

// Event names carried on the websocket.
const (
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventChatMessage     = "chatMessage"
	EventRoomJoined      = "roomJoined"
	EventRoomLeft        = "roomLeft"
	EventMessageRejected = "messageRejected"
	EventFriendAdded     = "friendAdded"
	EventFriendDeleted   = "friendDeleted"
	EventError           = "error"
)

// Rejection reasons reported in messageRejected and error payloads.
const (
	ReasonEmptyMessage  = "EmptyMessage"
	ReasonUnauthorized  = "UnauthorizedRoomAccess"
	ReasonPersistFailed = "PersistFailed"
	ReasonMalformed     = "MalformedEvent"
	ReasonUnknownEvent  = "UnknownEvent"
	ReasonRateLimited   = "RateLimited"
)

// Envelope is one websocket frame: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of joinRoom and leaveRoom.
type RoomRequest struct {
	Room string `json:"room"`
}

// ChatMessageRequest is the inbound chatMessage payload.
type ChatMessageRequest struct {
	Room    string          `json:"room"`
	Message OutgoingMessage `json:"message"`
}

// ChatMessageEvent is the outbound chatMessage payload.
type ChatMessageEvent struct {
	Room    string  `json:"room"`
	Message Message `json:"message"`
}

// RoomJoinedEvent acknowledges a join. JoinedAt is the history watermark:
// backlog is everything at or before it, live events are strictly after it.
type RoomJoinedEvent struct {
	Room     string    `json:"room"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomLeftEvent acknowledges a leave.
type RoomLeftEvent struct {
	Room string `json:"room"`
}

// RejectedEvent tells a sender that one of its events was refused.
type RejectedEvent struct {
	Room     string `json:"room,omitempty"`
	Reason   string `json:"reason"`
	ClientID string `json:"clientId,omitempty"`
}

// ErrorEvent reports a frame that could not be interpreted.
type ErrorEvent struct {
	Reason string `json:"reason"`
	Event  string `json:"event,omitempty"`
}

// Encode builds a frame for the given event name and payload.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
