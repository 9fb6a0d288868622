package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	pool    *pgxpool.Pool
	rdb     redis.UniversalClient
	version string
}

func NewHealthHandler(pool *pgxpool.Pool, rdb redis.UniversalClient, version string) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb, version: version}
}

// LivenessCheck reports that the process is up.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "up", "version": h.version})
}

// ReadinessCheck reports whether the dependencies are reachable.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true

	if err := h.pool.Ping(ctx); err != nil {
		components["database"] = gin.H{"status": "down", "error": err.Error()}
		healthy = false
	} else {
		components["database"] = gin.H{"status": "up"}
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		components["redis"] = gin.H{"status": "down", "error": err.Error()}
		healthy = false
	} else {
		components["redis"] = gin.H{"status": "up"}
	}

	status := http.StatusOK
	overall := "up"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"version":    h.version,
		"components": components,
	})
}
