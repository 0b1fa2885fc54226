package model

import (
	"time"

	"vpool/pkg/constants"
)

// Worker record field names, shared by the store encoding, update requests and conditions
const (
	FieldID               = "id"
	FieldStatus           = "status"
	FieldTaskID           = "task_id"
	FieldAssignedStageArn = "assigned_stage_arn"
	FieldStageEndpoints   = "stage_endpoints"
	FieldAssetName        = "asset_name"
	FieldRunning          = "running"
	FieldLastUpdateSource = "last_update_source"
	FieldCreatedAt        = "created_at"
	FieldUpdatedAt        = "updated_at"
	FieldTTL              = "ttl"
)

// WorkerRecord one record per virtual participant worker process
type WorkerRecord struct {
	ID               string                 `json:"id"`
	Status           constants.WorkerStatus `json:"status"`
	TaskID           string                 `json:"taskId,omitempty"`           // Orchestrator task handle, empty until start returns
	AssignedStageArn string                 `json:"assignedStageArn"`           // Stage ARN or constants.UnassignedStage
	StageEndpoints   map[string]string      `json:"stageEndpoints,omitempty"`   // Copied from the stage at claim time
	AssetName        string                 `json:"assetName,omitempty"`        // Content the worker should render
	Running          bool                   `json:"running"`                    // Orchestrator reported RUNNING
	LastUpdateSource string                 `json:"lastUpdateSource,omitempty"` // Provenance tag, best effort
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	TTL              *time.Time             `json:"ttl,omitempty"` // Purge instant for terminal records
}

// HasStage reports whether the record is assigned to a stage
func (w *WorkerRecord) HasStage() bool {
	return w.AssignedStageArn != "" && w.AssignedStageArn != constants.UnassignedStage
}

// NewProvisioningRecord builds the record the pool controller creates after a task start
func NewProvisioningRecord(id, taskID string, now time.Time) *WorkerRecord {
	return &WorkerRecord{
		ID:               id,
		Status:           constants.WorkerStatusProvisioning,
		TaskID:           taskID,
		AssignedStageArn: constants.UnassignedStage,
		LastUpdateSource: constants.SourcePoolController,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// UpdateRequest conditional field update applied atomically by the worker store
type UpdateRequest struct {
	Set       map[string]interface{} // Field -> value (string, WorkerStatus, bool, time.Time, map[string]string)
	Remove    []string               // Fields to delete
	Condition map[string]interface{} // Equality predicate on current values; a missing field equals ""
	// StageVacant fails the update when another live record already holds this stage
	StageVacant string
}

// UpdateResult tagged outcome of a compare-and-set
type UpdateResult int

const (
	UpdateApplied UpdateResult = iota
	UpdateConflict
)

func (r UpdateResult) String() string {
	if r == UpdateApplied {
		return "applied"
	}
	return "conflict"
}

// WorkerStatusReport worker self-report request
type WorkerStatusReport struct {
	Status constants.WorkerStatus `json:"status" binding:"required"`
	Reason string                 `json:"reason,omitempty"`
}

// ListWorkersResponse ListWorkers response
type ListWorkersResponse struct {
	Workers    []*WorkerRecord `json:"workers"`
	TotalCount int             `json:"totalCount"`
}

// StopResult outcome of stopping a single worker
type StopResult struct {
	WorkerID string `json:"workerId"`
	TaskID   string `json:"taskId"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// StopAllResponse StopAllWorkers summary, returned even on partial failure
type StopAllResponse struct {
	TotalFound      int          `json:"totalFound"`
	SuccessfulStops int          `json:"successfulStops"`
	FailedStops     int          `json:"failedStops"`
	Results         []StopResult `json:"results"`
}
