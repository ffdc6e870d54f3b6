package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-broker/internal/mocks"
	"chat-broker/internal/telemetry"
	"chat-broker/internal/ws"
)

type staticStats ws.Stats

func (s staticStats) Stats() ws.Stats { return ws.Stats(s) }

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, staticStats{}, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, staticStats{Connections: 3, Rooms: 2}, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connections":3,"rooms":2}`, rec.Body.String())
}

func TestDebugAuditTestPublishes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.chat-broker", "chat-broker", "test")
	r := gin.New()
	RegisterDebugRoutes(r, emitter, staticStats{}, true)

	pub.On("Publish", mock.Anything, "audit.chat-broker", mock.Anything, map[string]string(nil)).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}
