package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"whisper-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		var actor *telemetry.AuditActor
		if id := c.GetInt("userID"); id != 0 {
			actor = &telemetry.AuditActor{UserID: strconv.Itoa(id), Username: c.GetString("username")}
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), actor)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
