package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ClientConfig bounds a single websocket transport.
type ClientConfig struct {
	SendBuffer     int
	MaxMessageSize int64
	RatePerSecond  float64
	RateBurst      int
}

// Client is the gorilla websocket transport behind a Connection.
type Client struct {
	conn    *websocket.Conn
	addr    string
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded websocket.
func NewClient(conn *websocket.Conn, addr string, cfg ClientConfig) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		conn:    conn,
		addr:    addr,
		limiter: limiter,
		send:    make(chan []byte, cfg.SendBuffer),
	}
}

// Send queues a frame without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// readPump feeds inbound frames to handle until the socket fails. Frames
// over the rate limit are answered by limited and otherwise dropped.
func (c *Client) readPump(ctx context.Context, handle func(context.Context, []byte), limited func()) string {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("set read deadline %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return c.readErrorReason(err)
		}
		if c.limiter != nil && !c.limiter.Allow() {
			log.Printf("rate limit exceeded for %s; discarding frame", c.addr)
			limited()
			continue
		}
		handle(ctx, frame)
	}
}

func (c *Client) readErrorReason(err error) string {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("frame from %s exceeded read limit", c.addr)
		return "message too big"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client closed"
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		return "connection closed"
	default:
		log.Printf("websocket read error from %s: %v", c.addr, err)
		return err.Error()
	}
}

// writePump writes one websocket message per queued frame and keeps the
// peer alive with pings. It owns closing the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("close websocket %s: %v", c.addr, err)
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("write close frame %s: %v", c.addr, err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("write frame %s: %v", c.addr, err)
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
