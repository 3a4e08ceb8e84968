package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arcp-io/arcp/internal/auth"
	"github.com/arcp-io/arcp/internal/config"
	"github.com/arcp-io/arcp/internal/embedding"
	"github.com/arcp-io/arcp/internal/registry/service"
	"github.com/arcp-io/arcp/internal/storage"
)

// Storage states reported by the health endpoints.
const (
	storageMemory    = "memory"
	storageConnected = "connected"
	storageFallback  = "fallback"
)

// HealthHandler serves liveness and dependency health.
type HealthHandler struct {
	registry *service.Registry
	adapter  *storage.Adapter
	embedder embedding.Provider
	mw       *auth.Middleware
	started  time.Time
}

// NewHealthHandler wires the health endpoints.
func NewHealthHandler(registry *service.Registry, adapter *storage.Adapter, embedder embedding.Provider, mw *auth.Middleware) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		adapter:  adapter,
		embedder: embedder,
		mw:       mw,
		started:  time.Now().UTC(),
	}
}

// Register mounts the routes. The detailed report exposes dependency internals
// and is admin-only.
func (h *HealthHandler) Register(r *gin.RouterGroup) {
	r.GET("/health", h.health)
	r.GET("/health/detailed", h.mw.RequireLevel(auth.LevelAdmin), h.mw.RequireAdminSession(), h.detailed)
}

// dependencyState summarizes the storage backend and embedding provider.
// A missing embedding provider or an unconfigured backend is a deliberate
// configuration, not an outage: only a configured backend that stopped
// answering flips the service to degraded.
func (h *HealthHandler) dependencyState(c *gin.Context) (status, storageState, aiState string) {
	status = "healthy"
	storageState = storageMemory
	if h.adapter.BackendConfigured() {
		if h.adapter.BackendAvailable(c.Request.Context()) {
			storageState = storageConnected
		} else {
			storageState = storageFallback
			status = "degraded"
		}
	}
	aiState = "unavailable"
	if h.embedder.Available() {
		aiState = "available"
	}
	return status, storageState, aiState
}

// health is the public probe: process liveness plus a dependency summary.
func (h *HealthHandler) health(c *gin.Context) {
	status, storageState, aiState := h.dependencyState(c)
	c.JSON(200, gin.H{
		"status":      status,
		"service":     config.ServiceName,
		"version":     config.ServiceVersion,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"timestamp":   time.Now().UTC(),
		"storage":     storageState,
		"ai_services": aiState,
	})
}

// detailed reports dependency state for operators. A degraded backend does
// not stop the registry: it keeps serving from memory.
func (h *HealthHandler) detailed(c *gin.Context) {
	stats := h.registry.Stats()
	status, storageState, aiState := h.dependencyState(c)

	c.JSON(200, gin.H{
		"status":    status,
		"service":   config.ServiceName,
		"version":   config.ServiceVersion,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
		"dependencies": gin.H{
			"storage_backend": gin.H{
				"configured": h.adapter.BackendConfigured(),
				"state":      storageState,
			},
			"embedding_provider": gin.H{
				"available": h.embedder.Available(),
				"state":     aiState,
			},
		},
		"registry": gin.H{
			"total_agents": stats.TotalAgents,
			"alive_agents": stats.AliveAgents,
		},
	})
}
