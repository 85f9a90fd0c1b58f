package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"message-sync/internal/cache"
)

// OpDebug tags synthetic failures raised from the debug route.
const OpDebug cache.Op = "debug"

var errSyntheticFailure = errors.New("synthetic failure")

// RegisterDebugRoutes wires debug-only endpoints. /debug/report-test pushes a
// synthetic sync failure through the reporter so the failure pipeline can be
// checked end to end.
func RegisterDebugRoutes(router gin.IRoutes, reporter cache.Reporter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/report-test", func(c *gin.Context) {
		if reporter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failure reporter not configured"})
			return
		}
		rolledBack, _ := strconv.ParseBool(c.Query("rolled_back"))
		f := cache.Failure{
			Op:         OpDebug,
			RoomID:     c.DefaultQuery("room_id", "debug"),
			MessageID:  requestIDFromContext(c),
			Err:        errSyntheticFailure,
			RolledBack: rolledBack,
			At:         time.Now(),
		}
		if userID := userIDFromContext(c); userID != nil {
			f.UserID = *userID
		}
		reporter.ReportFailure(c.Request.Context(), f)
		c.JSON(http.StatusAccepted, gin.H{"status": "reported", "op": string(f.Op), "room_id": f.RoomID})
	})
}
