// Package bridge relays committed friend-graph changes to the affected
// user's personal room.
package bridge

import (
	"context"
	"errors"
	"log"

	"chat-broker/internal/models"
	"chat-broker/internal/rooms"
	"chat-broker/internal/telemetry"
)

var (
	ErrMissingAffectedUser = errors.New("affected user id is required")
	ErrMissingFriend       = errors.New("friend id is required")
	ErrInvalidUser         = errors.New("affected user id cannot own a personal room")
)

// Emitter delivers a server event to every member of a room.
type Emitter interface {
	Emit(roomID, event string, payload any) (int, error)
}

// Bridge turns relationship changes into friendAdded / friendDeleted events.
// Delivery is best effort: a user with no open connection simply misses it.
type Bridge struct {
	emitter Emitter
	audit   *telemetry.AuditEmitter
}

func New(emitter Emitter, audit *telemetry.AuditEmitter) *Bridge {
	return &Bridge{emitter: emitter, audit: audit}
}

// FriendAdded tells the affected user that p.User is now a friend. It
// returns the number of connections reached.
func (b *Bridge) FriendAdded(ctx context.Context, p models.FriendAddedPayload) (int, error) {
	if err := checkAffected(p.AffectedUserID); err != nil {
		return 0, err
	}
	if p.User.ID == "" {
		return 0, ErrMissingFriend
	}
	n, err := b.emitter.Emit(rooms.PersonalRoomID(p.AffectedUserID), models.EventFriendAdded, p.User)
	if err != nil {
		return 0, err
	}
	b.record(ctx, "friend added", p.AffectedUserID, p.User.ID, n)
	return n, nil
}

// FriendRemoved tells the affected user that p.FriendID is no longer a friend.
func (b *Bridge) FriendRemoved(ctx context.Context, p models.FriendRemovedPayload) (int, error) {
	if err := checkAffected(p.AffectedUserID); err != nil {
		return 0, err
	}
	if p.FriendID == "" {
		return 0, ErrMissingFriend
	}
	n, err := b.emitter.Emit(rooms.PersonalRoomID(p.AffectedUserID), models.EventFriendDeleted, models.FriendDeletedEvent{FriendID: p.FriendID})
	if err != nil {
		return 0, err
	}
	b.record(ctx, "friend removed", p.AffectedUserID, p.FriendID, n)
	return n, nil
}

func checkAffected(userID string) error {
	if userID == "" {
		return ErrMissingAffectedUser
	}
	if !rooms.ValidUserID(userID) {
		return ErrInvalidUser
	}
	return nil
}

func (b *Bridge) record(ctx context.Context, text, affected, friend string, delivered int) {
	log.Printf("%s affected=%s friend=%s connections=%d", text, affected, friend, delivered)
	b.audit.Emit(ctx, "INFO", text, "", &affected, map[string]string{"friend_id": friend})
}
