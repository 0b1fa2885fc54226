package model

import "time"

// StageRecord real-time stage session a worker can be invited to
type StageRecord struct {
	ID        string            `json:"id"`
	Arn       string            `json:"arn"`
	Endpoints map[string]string `json:"endpoints"` // e.g. whip, events
	CreatedAt time.Time         `json:"createdAt"`
}

// CreateStageRequest stage registration request
type CreateStageRequest struct {
	ID        string            `json:"id"`
	Arn       string            `json:"arn" binding:"required"`
	Endpoints map[string]string `json:"endpoints"`
}

// CreateInvitationRequest invitation request
type CreateInvitationRequest struct {
	StageID   string `json:"stageId" binding:"required"`
	AssetName string `json:"assetName,omitempty"`
}

// KickWorkerRequest eviction request
type KickWorkerRequest struct {
	StageID string `json:"stageId" binding:"required"`
}
