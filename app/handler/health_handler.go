package handler

import (
	"net/http"

	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CacheSyncer pod informer readiness
type CacheSyncer interface {
	HasSynced() bool
}

// BacklogReporter depth of the task state change queue
type BacklogReporter interface {
	Backlog() (int, error)
}

// HealthHandler liveness plus readiness of the event intake
type HealthHandler struct {
	informer CacheSyncer
	queue    BacklogReporter
}

// NewHealthHandler creates a health handler; either dependency may be nil
func NewHealthHandler(informer CacheSyncer, queue BacklogReporter) *HealthHandler {
	return &HealthHandler{informer: informer, queue: queue}
}

// Health reports 503 until the pod cache has synced, since task state
// changes observed before that are incomplete
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	code := http.StatusOK

	if h.informer != nil {
		synced := h.informer.HasSynced()
		body["informerSynced"] = synced
		if !synced {
			body["status"] = "starting"
			code = http.StatusServiceUnavailable
		}
	}

	if h.queue != nil {
		backlog, err := h.queue.Backlog()
		if err != nil {
			logger.WarnCtx(c.Request.Context(), "failed to read task queue backlog: %v", err)
			body["taskBacklogError"] = err.Error()
		} else {
			body["taskBacklog"] = backlog
		}
	}

	c.JSON(code, body)
}
