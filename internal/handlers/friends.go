package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-broker/internal/bridge"
	"chat-broker/internal/models"
)

// FriendNotifier relays committed friend-graph changes to connected clients.
type FriendNotifier interface {
	FriendAdded(ctx context.Context, p models.FriendAddedPayload) (int, error)
	FriendRemoved(ctx context.Context, p models.FriendRemovedPayload) (int, error)
}

// FriendsHandler exposes the bridge to the relationship service.
type FriendsHandler struct {
	notifier FriendNotifier
}

// NewFriendsHandler builds a FriendsHandler.
func NewFriendsHandler(notifier FriendNotifier) *FriendsHandler {
	return &FriendsHandler{notifier: notifier}
}

// FriendAdded handles POST /internal/friends/added.
func (h *FriendsHandler) FriendAdded(c *gin.Context) {
	var req models.FriendAddedPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.notifier.FriendAdded(c.Request.Context(), req)
	h.respond(c, n, err)
}

// FriendRemoved handles POST /internal/friends/removed.
func (h *FriendsHandler) FriendRemoved(c *gin.Context) {
	var req models.FriendRemovedPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.notifier.FriendRemoved(c.Request.Context(), req)
	h.respond(c, n, err)
}

func (h *FriendsHandler) respond(c *gin.Context, delivered int, err error) {
	switch {
	case errors.Is(err, bridge.ErrMissingAffectedUser), errors.Is(err, bridge.ErrMissingFriend), errors.Is(err, bridge.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to notify"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
	}
}
