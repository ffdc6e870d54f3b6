package observability

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// ConnIdentityFromRequest captures who is behind a websocket handshake.
// ConnID and UserID are filled in once the connection is registered.
func ConnIdentityFromRequest(ctx context.Context, r *http.Request) ConnIdentity {
	return ConnIdentity{
		DeviceID:    r.Header.Get("X-Device-Id"),
		IP:          ipFromRequest(r),
		RequestID:   r.Header.Get("X-Request-Id"),
		TraceID:     TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
}

func ipFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
