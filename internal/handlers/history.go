package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-broker/internal/models"
	"chat-broker/internal/observability"
	"chat-broker/internal/rooms"
)

const (
	CodeHistoryFetchTimeout = "HistoryFetchTimeout"
	CodeHistoryFetchFailure = "HistoryFetchFailure"
)

// HistoryStore reads a room's persisted backlog.
type HistoryStore interface {
	ListRoomMessages(ctx context.Context, roomID string, until time.Time) ([]models.Message, error)
}

// HistoryHandler serves room backlog up to the join watermark.
type HistoryHandler struct {
	store   HistoryStore
	timeout time.Duration
	now     func() time.Time
}

// NewHistoryHandler builds a HistoryHandler.
func NewHistoryHandler(store HistoryStore, timeout time.Duration) *HistoryHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HistoryHandler{store: store, timeout: timeout, now: time.Now}
}

// GetHistory returns messages stamped at or before ?until, oldest first.
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	userID := c.GetString("userID")
	roomID := c.Param("room")
	if !rooms.CanAccess(userID, roomID) {
		c.JSON(http.StatusForbidden, models.HistoryResponse{Error: "not authorized for room"})
		return
	}

	until := h.now().UTC()
	if raw := c.Query("until"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.HistoryResponse{Error: "invalid until"})
			return
		}
		until = parsed
	}

	ctx, span := observability.Tracer().Start(c.Request.Context(), "history.fetch", trace.WithAttributes(
		attribute.String("chat.room", roomID),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	started := time.Now()
	msgs, err := h.store.ListRoomMessages(ctx, roomID, until)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			observability.ObserveHistoryFetch("timeout", time.Since(started))
			log.Printf("history fetch timeout room=%s: %v", roomID, err)
			c.JSON(http.StatusGatewayTimeout, models.HistoryResponse{Error: "history fetch timed out", Code: CodeHistoryFetchTimeout})
			return
		}
		observability.ObserveHistoryFetch("error", time.Since(started))
		log.Printf("history fetch failed room=%s: %v", roomID, err)
		c.JSON(http.StatusBadGateway, models.HistoryResponse{Error: "failed to load history", Code: CodeHistoryFetchFailure})
		return
	}

	observability.ObserveHistoryFetch("ok", time.Since(started))
	if msgs == nil {
		msgs = []models.Message{}
	}
	span.SetAttributes(attribute.Int("chat.messages", len(msgs)))
	c.JSON(http.StatusOK, models.HistoryResponse{Success: true, Data: msgs})
}
