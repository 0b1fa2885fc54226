package handler

import (
	"net/http"

	"vpool/internal/model"
	"vpool/internal/service"

	"github.com/gin-gonic/gin"
)

// StageHandler stage registration and lookup
type StageHandler struct {
	stageService *service.StageService
}

func NewStageHandler(stageService *service.StageService) *StageHandler {
	return &StageHandler{stageService: stageService}
}

// CreateStage registers a stage workers can be invited to
func (h *StageHandler) CreateStage(c *gin.Context) {
	var req model.CreateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	stage, err := h.stageService.RegisterStage(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stage)
}

func (h *StageHandler) GetStage(c *gin.Context) {
	stage, err := h.stageService.GetStage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (h *StageHandler) ListStages(c *gin.Context) {
	stages, err := h.stageService.ListStages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages, "total": len(stages)})
}
