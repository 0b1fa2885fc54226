package handler

import (
	"net/http"
	"strconv"

	"vpool/internal/model"
	"vpool/internal/service"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles worker-related operations
type WorkerHandler struct {
	workerService *service.WorkerService
	eventService  *service.WorkerEventService
}

// NewWorkerHandler creates a new worker handler. eventService may be nil when
// the audit trail is not configured.
func NewWorkerHandler(workerService *service.WorkerService, eventService *service.WorkerEventService) *WorkerHandler {
	return &WorkerHandler{
		workerService: workerService,
		eventService:  eventService,
	}
}

// ListWorkers lists every live worker record
// @Summary List workers
// @Tags worker
// @Produce json
// @Success 200 {object} model.ListWorkersResponse
// @Router /api/v1/workers [get]
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	resp, err := h.workerService.ListWorkers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetWorker returns one worker record
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	worker, err := h.workerService.GetWorker(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// StopAllWorkers stops every active worker. Partial failures are reported in
// the summary, the response is 200 regardless.
// @Summary Stop all workers
// @Tags worker
// @Produce json
// @Success 200 {object} model.StopAllResponse
// @Router /api/v1/workers/stop-all [post]
func (h *WorkerHandler) StopAllWorkers(c *gin.Context) {
	resp, err := h.workerService.StopAllWorkers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReportStatus worker self-report (JOINED, AVAILABLE, ERRORED)
func (h *WorkerHandler) ReportStatus(c *gin.Context) {
	var req model.WorkerStatusReport
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	worker, err := h.workerService.ReportStatus(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// GetWorkerEvents returns a worker's audit trail, newest first
func (h *WorkerHandler) GetWorkerEvents(c *gin.Context) {
	if h.eventService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": model.CodeInternalError, "message": "worker event audit is not enabled"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, model.ErrInvalidRequest.WithMessage("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := h.eventService.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}
