package handler

import (
	"net/http"

	"vpool/internal/model"
	"vpool/internal/service"
	"vpool/pkg/logger"

	"github.com/gin-gonic/gin"
)

// InvitationHandler assigns warm workers to stages and evicts them
type InvitationHandler struct {
	invitations *service.InvitationService
	evictions   *service.EvictionService
}

// NewInvitationHandler creates a new invitation handler
func NewInvitationHandler(invitations *service.InvitationService, evictions *service.EvictionService) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		evictions:   evictions,
	}
}

// CreateInvitation claims an available worker for a stage
// @Summary Invite a virtual participant
// @Tags invitation
// @Accept json
// @Produce json
// @Param request body model.CreateInvitationRequest true "Invitation"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/invitations [post]
func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	var req model.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	worker, err := h.invitations.CreateInvitation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.InfoCtx(c.Request.Context(), "worker %s invited to stage %s", worker.ID, req.StageID)
	c.JSON(http.StatusOK, gin.H{})
}

// Kick evicts the worker assigned to a stage
// @Summary Kick a virtual participant
// @Tags invitation
// @Accept json
// @Produce json
// @Param request body model.KickWorkerRequest true "Kick"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/kick [post]
func (h *InvitationHandler) Kick(c *gin.Context) {
	var req model.KickWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	worker, err := h.evictions.Kick(c.Request.Context(), req.StageID)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.InfoCtx(c.Request.Context(), "worker %s kicked from stage %s", worker.ID, req.StageID)
	c.JSON(http.StatusOK, gin.H{})
}
