package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-broker/internal/telemetry"
	"chat-broker/internal/ws"
)

// StatsSource reports live broker counts.
type StatsSource interface {
	Stats() ws.Stats
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, stats StatsSource, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, stats.Stats())
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
