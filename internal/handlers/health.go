package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/presence"
)

// HealthHandler reports process and database health.
type HealthHandler struct {
	db       *gorm.DB
	registry *presence.Registry
	started  time.Time
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, registry *presence.Registry) *HealthHandler {
	return &HealthHandler{db: db, registry: registry, started: time.Now()}
}

// Live answers liveness probes.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "ok",
		"uptime":  time.Since(h.started).String(),
	})
}

// Ready answers readiness probes: the process is ready once the database
// responds to a ping.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unreachable"
	}

	c.JSON(status, gin.H{
		"success":        status == http.StatusOK,
		"database":       dbStatus,
		"online_members": h.registry.Count(),
		"checked_at":     time.Now().UTC(),
	})
}
