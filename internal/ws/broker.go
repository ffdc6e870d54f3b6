package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-broker/internal/models"
	"chat-broker/internal/observability"
	"chat-broker/internal/rooms"
	"chat-broker/internal/telemetry"
)

var (
	ErrUnauthorizedRoom = errors.New("room not joined by connection")
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrPersistFailed    = errors.New("message could not be persisted")
	ErrConnectionClosed = errors.New("connection closed")
	ErrBrokerClosed     = errors.New("broker is shutting down")
	ErrInvalidUser      = errors.New("user id cannot own rooms")
)

// MessageStore persists routed chat messages for later history fetches.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg models.Message) error
}

// Options configures a Broker. Zero values are usable: no persistence,
// wall clock, no audit trail.
type Options struct {
	Store          MessageStore
	PersistTimeout time.Duration
	Audit          *telemetry.AuditEmitter
	Now            func() time.Time
}

// Broker routes inbound events from connections to room members.
type Broker struct {
	registry       *Registry
	rooms          *rooms.Table
	store          MessageStore
	persistTimeout time.Duration
	audit          *telemetry.AuditEmitter
	now            func() time.Time
	closed         atomic.Bool
}

// Stats is a point-in-time view used by the debug routes.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// NewBroker builds a broker with an empty registry and membership table.
func NewBroker(opts Options) *Broker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	return &Broker{
		registry:       NewRegistry(),
		rooms:          rooms.NewTable(),
		store:          opts.Store,
		persistTimeout: opts.PersistTimeout,
		audit:          opts.Audit,
		now:            opts.Now,
	}
}

func (b *Broker) Registry() *Registry { return b.registry }
func (b *Broker) Rooms() *rooms.Table { return b.rooms }

func (b *Broker) Stats() Stats {
	return Stats{Connections: b.registry.Len(), Rooms: b.rooms.Rooms()}
}

// Connect registers a transport for an authenticated user.
func (b *Broker) Connect(ctx context.Context, id, userID string, sink Sink, info observability.ConnIdentity) (*Connection, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}
	if !rooms.ValidUserID(userID) {
		return nil, ErrInvalidUser
	}
	c, err := b.registry.Register(id, userID, sink, info)
	if err != nil {
		return nil, err
	}
	observability.IncWSActive("room")
	observability.PublishWSEvent(ctx, "ws_connect", c.info, "")
	log.Printf("ws connect conn_id=%s user_id=%s", id, userID)
	return c, nil
}

// Disconnect unregisters the connection, removes it from every room it joined
// and closes its transport. It is safe to call more than once.
func (b *Broker) Disconnect(id, reason string) []string {
	c, left, ok := b.registry.Unregister(id)
	if !ok {
		return nil
	}
	for _, roomID := range left {
		b.rooms.Leave(roomID, id)
	}
	observability.SetRooms(b.rooms.Rooms())
	if err := c.sink.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("ws close error conn_id=%s: %v", id, err)
	}
	observability.DecWSActive("room")
	observability.PublishWSEvent(context.Background(), "ws_disconnect", c.info, reason)
	log.Printf("ws disconnect conn_id=%s user_id=%s rooms=%d reason=%q", id, c.userID, len(left), reason)
	return left
}

// Shutdown disconnects every connection and refuses new ones.
func (b *Broker) Shutdown() {
	b.closed.Store(true)
	ids := b.registry.IDs()
	for _, id := range ids {
		b.Disconnect(id, "server shutdown")
	}
	log.Printf("broker shutdown: closed %d connections", len(ids))
}

// HandleFrame decodes one inbound frame and routes it. Errors never terminate
// the connection; they are reported to the sender or logged.
func (b *Broker) HandleFrame(ctx context.Context, c *Connection, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		b.replyError(c, models.ReasonMalformed, "")
		return
	}
	observability.IncWSEvent("room", env.Event)

	switch env.Event {
	case models.EventJoinRoom:
		var req models.RoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Room == "" {
			b.replyError(c, models.ReasonMalformed, env.Event)
			return
		}
		if _, err := b.JoinRoom(c, req.Room); err != nil {
			b.handleRouteError(ctx, c, env.Event, req.Room, "", err)
		}

	case models.EventLeaveRoom:
		var req models.RoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Room == "" {
			b.replyError(c, models.ReasonMalformed, env.Event)
			return
		}
		b.LeaveRoom(c, req.Room)

	case models.EventChatMessage:
		var req models.ChatMessageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Room == "" {
			b.replyError(c, models.ReasonMalformed, env.Event)
			return
		}
		if _, err := b.SendChat(ctx, c, req); err != nil {
			b.handleRouteError(ctx, c, env.Event, req.Room, req.Message.ClientID, err)
		}

	default:
		b.replyError(c, models.ReasonUnknownEvent, env.Event)
	}
}

// JoinRoom adds the connection to roomID and acknowledges with the history
// watermark. The acknowledgment is queued before anything published later.
func (b *Broker) JoinRoom(c *Connection, roomID string) (time.Time, error) {
	if !rooms.CanAccess(c.userID, roomID) {
		return time.Time{}, ErrUnauthorizedRoom
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Live() {
		return time.Time{}, ErrConnectionClosed
	}

	var acked bool
	watermark := b.rooms.Join(roomID, c, b.now(), func(w time.Time) {
		frame, err := models.Encode(models.EventRoomJoined, models.RoomJoinedEvent{Room: roomID, JoinedAt: w})
		if err == nil {
			acked = c.deliver(frame)
		}
	})
	c.rooms[roomID] = struct{}{}
	observability.SetRooms(b.rooms.Rooms())

	if !acked {
		b.scheduleDisconnect(c.id, "join acknowledgment not delivered")
	}
	return watermark, nil
}

// LeaveRoom removes the connection from roomID. Leaving a room that was
// never joined is a no-op.
func (b *Broker) LeaveRoom(c *Connection, roomID string) {
	c.mu.Lock()
	_, joined := c.rooms[roomID]
	delete(c.rooms, roomID)
	if joined {
		b.rooms.Leave(roomID, c.id)
	}
	c.mu.Unlock()
	observability.SetRooms(b.rooms.Rooms())

	if frame, err := models.Encode(models.EventRoomLeft, models.RoomLeftEvent{Room: roomID}); err == nil {
		if !c.deliver(frame) {
			b.scheduleDisconnect(c.id, "leave acknowledgment not delivered")
		}
	}
}

// SendChat stamps, persists and fans out a chat message to every other
// member of the room. The sender keeps its own optimistic copy and is
// never a target.
func (b *Broker) SendChat(ctx context.Context, c *Connection, req models.ChatMessageRequest) (models.Message, error) {
	ctx, span := observability.Tracer().Start(ctx, "ws.chatMessage", trace.WithAttributes(
		attribute.String("chat.room", req.Room),
		attribute.String("chat.sender", c.userID),
	))
	defer span.End()

	if !c.inRoom(req.Room) {
		return models.Message{}, ErrUnauthorizedRoom
	}
	text := strings.TrimSpace(req.Message.Text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	var (
		msg    models.Message
		failed []*Connection
		sent   int
	)
	err := b.rooms.PublishStamped(req.Room, b.now(), func(stamp time.Time, members []rooms.Member) error {
		msg = models.Message{
			ID:        uuid.NewString(),
			RoomID:    req.Room,
			From:      c.userID,
			To:        recipientFor(req.Room, c.userID, req.Message.To),
			Text:      text,
			CreatedAt: stamp,
		}
		if b.store != nil {
			persistCtx, cancel := context.WithTimeout(ctx, b.persistTimeout)
			err := b.store.AppendMessage(persistCtx, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPersistFailed, err)
			}
		}

		frame, err := models.Encode(models.EventChatMessage, models.ChatMessageEvent{Room: req.Room, Message: msg})
		if err != nil {
			return err
		}
		for _, m := range members {
			target, ok := m.(*Connection)
			if !ok || target.id == c.id {
				continue
			}
			if target.deliver(frame) {
				sent++
				continue
			}
			failed = append(failed, target)
		}
		return nil
	})
	if errors.Is(err, rooms.ErrRoomNotFound) {
		err = ErrUnauthorizedRoom
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}

	b.recordDeliveries(models.EventChatMessage, sent, failed)
	span.SetAttributes(attribute.Int("chat.recipients", sent))
	return msg, nil
}

// Emit delivers a server-originated event to every member of roomID and
// returns how many members it reached. An empty room is not an error.
func (b *Broker) Emit(roomID, event string, payload any) (int, error) {
	frame, err := models.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	var (
		sent   int
		failed []*Connection
	)
	b.rooms.Publish(roomID, func(members []rooms.Member) {
		for _, m := range members {
			target, ok := m.(*Connection)
			if !ok {
				continue
			}
			if target.deliver(frame) {
				sent++
				continue
			}
			failed = append(failed, target)
		}
	})
	b.recordDeliveries(event, sent, failed)
	return sent, nil
}

func (b *Broker) recordDeliveries(event string, sent int, failed []*Connection) {
	for i := 0; i < sent; i++ {
		observability.IncDelivery(event, "ok")
	}
	for _, target := range failed {
		observability.IncDelivery(event, "failed")
		observability.PublishWSEvent(context.Background(), "ws_error", target.info, "send buffer full")
		log.Printf("delivery failed conn_id=%s event=%s", target.id, event)
		b.scheduleDisconnect(target.id, "delivery failure")
	}
}

// scheduleDisconnect runs the cleanup off the caller's goroutine.
func (b *Broker) scheduleDisconnect(id, reason string) {
	go b.Disconnect(id, reason)
}

func (b *Broker) handleRouteError(ctx context.Context, c *Connection, event, roomID, clientID string, err error) {
	switch {
	case errors.Is(err, ErrUnauthorizedRoom):
		observability.IncRejected(models.ReasonUnauthorized)
		log.Printf("dropping %s conn_id=%s user_id=%s room=%s: not joined", event, c.id, c.userID, roomID)
		userID := c.userID
		b.audit.Emit(ctx, "WARN", "unauthorized room access", c.info.RequestID, &userID, map[string]string{
			"room":    roomID,
			"event":   event,
			"conn_id": c.id,
		})
		// Refused joins are acknowledged; other events for foreign rooms are dropped silently.
		if event == models.EventJoinRoom {
			b.reject(c, roomID, models.ReasonUnauthorized, clientID)
		}
	case errors.Is(err, ErrEmptyMessage):
		observability.IncRejected(models.ReasonEmptyMessage)
		b.reject(c, roomID, models.ReasonEmptyMessage, clientID)
	case errors.Is(err, ErrPersistFailed):
		observability.IncRejected(models.ReasonPersistFailed)
		log.Printf("persist failed conn_id=%s room=%s: %v", c.id, roomID, err)
		b.reject(c, roomID, models.ReasonPersistFailed, clientID)
	case errors.Is(err, ErrConnectionClosed):
	default:
		log.Printf("route error event=%s conn_id=%s room=%s: %v", event, c.id, roomID, err)
	}
}

func (b *Broker) reject(c *Connection, roomID, reason, clientID string) {
	frame, err := models.Encode(models.EventMessageRejected, models.RejectedEvent{Room: roomID, Reason: reason, ClientID: clientID})
	if err != nil {
		return
	}
	if !c.deliver(frame) {
		b.scheduleDisconnect(c.id, "rejection not delivered")
	}
}

func (b *Broker) replyError(c *Connection, reason, event string) {
	observability.IncRejected(reason)
	frame, err := models.Encode(models.EventError, models.ErrorEvent{Reason: reason, Event: event})
	if err != nil {
		return
	}
	if !c.deliver(frame) {
		b.scheduleDisconnect(c.id, "error reply not delivered")
	}
}

// recipientFor names the other participant of a direct room. The client's
// value is only used for rooms that are not direct rooms.
func recipientFor(roomID, sender, requested string) string {
	a, bUser, ok := rooms.ParseDirectRoomID(roomID)
	if !ok {
		return requested
	}
	if a == sender {
		return bUser
	}
	return a
}

// RateLimited tells the sender its frame was discarded.
func (b *Broker) RateLimited(c *Connection) {
	b.replyError(c, models.ReasonRateLimited, "")
}
