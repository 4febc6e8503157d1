package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-chat-service/internal/telemetry"
)

// RegisterDebugRoutes wires endpoints that only exist when debug routes are
// enabled. They never touch chat state.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	// Exercises the audit pipeline end to end, broker included.
	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		text := fmt.Sprintf("chat audit self-test at %s", time.Now().UTC().Format(time.RFC3339))
		emitter.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "emitted"})
	})
}
