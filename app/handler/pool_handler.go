package handler

import (
	"net/http"

	"vpool/internal/jobs"
	"vpool/internal/service"

	"github.com/gin-gonic/gin"
)

// JobStatusSource reports background job ticks
type JobStatusSource interface {
	Status() []jobs.Status
}

// PoolHandler manual pool sizing pass and background job status
type PoolHandler struct {
	poolService *service.PoolService
	jobs        JobStatusSource // nil when no jobs run in this process
}

// NewPoolHandler creates a new pool handler
func NewPoolHandler(poolService *service.PoolService, jobStatus JobStatusSource) *PoolHandler {
	return &PoolHandler{poolService: poolService, jobs: jobStatus}
}

// Reconcile runs one pool sizing pass outside the job schedule
// @Summary Reconcile the warm pool
// @Tags pool
// @Produce json
// @Success 200 {object} service.PoolRunResult
// @Router /api/v1/pool/reconcile [post]
func (h *PoolHandler) Reconcile(c *gin.Context) {
	result, err := h.poolService.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Jobs lists the background jobs and their last tick
// @Summary Background job status
// @Tags pool
// @Produce json
// @Router /api/v1/pool/jobs [get]
func (h *PoolHandler) Jobs(c *gin.Context) {
	statuses := []jobs.Status{}
	if h.jobs != nil {
		statuses = h.jobs.Status()
	}
	c.JSON(http.StatusOK, gin.H{"jobs": statuses})
}
