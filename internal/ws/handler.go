package ws

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-broker/internal/observability"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Handler upgrades authenticated requests and binds them to the broker.
type Handler struct {
	broker   *Broker
	tokens   TokenValidator
	client   ClientConfig
	upgrader websocket.Upgrader

	allowAll bool
	origins  map[string]struct{}
}

// NewHandler constructs a Handler. An empty origin list or "*" allows any origin.
func NewHandler(broker *Broker, tokens TokenValidator, client ClientConfig, allowedOrigins []string) *Handler {
	h := &Handler{
		broker:  broker,
		tokens:  tokens,
		client:  client,
		origins: make(map[string]struct{}),
	}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			h.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(o)
		if !ok {
			log.Printf("ignoring invalid origin in configuration: %q", o)
			continue
		}
		h.origins[normalized] = struct{}{}
	}
	if len(h.origins) == 0 {
		h.allowAll = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Handle authenticates the handshake, upgrades, and runs the connection
// until the peer goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.String("chat.user", userID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		return
	}

	info := observability.ConnIdentityFromRequest(ctx, c.Request)
	span.End()

	client := NewClient(conn, info.IP, h.client)
	connCtx := context.WithoutCancel(ctx)
	registered, err := h.broker.Connect(connCtx, uuid.NewString(), userID, client, info)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go client.writePump()
	reason := client.readPump(connCtx,
		func(ctx context.Context, frame []byte) { h.broker.HandleFrame(ctx, registered, frame) },
		func() { h.broker.RateLimited(registered) },
	)
	h.broker.Disconnect(registered.ID(), reason)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if ok {
		if _, exists := h.origins[normalized]; exists {
			return true
		}
	}
	log.Printf("blocked websocket connection from disallowed origin: %q", origin)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
