package models

import "time"

// Message is a chat message as routed to room members and stored for history.
type Message struct {
	ID        string    `db:"id" json:"_id"`
	RoomID    string    `db:"room_id" json:"room"`
	From      string    `db:"sender_id" json:"from"`
	To        string    `db:"recipient_id" json:"to,omitempty"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// OutgoingMessage is the body a client attaches to an inbound chatMessage.
// Sender and timestamp are assigned by the broker, never taken from here.
type OutgoingMessage struct {
	To       string `json:"to,omitempty"`
	Text     string `json:"text"`
	ClientID string `json:"clientId,omitempty"`
}

// HistoryResponse mirrors the envelope the web client expects from the history endpoint.
type HistoryResponse struct {
	Success bool      `json:"success"`
	Data    []Message `json:"data"`
	Error   string    `json:"error,omitempty"`
	Code    string    `json:"code,omitempty"`
}
