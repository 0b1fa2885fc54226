package mysql

import (
	domain "vpool/internal/model"
	"vpool/pkg/store/mysql/model"
)

// ToStageDomain converts a stages row to the domain StageRecord
func ToStageDomain(row *Stage) *domain.StageRecord {
	if row == nil {
		return nil
	}
	return &domain.StageRecord{
		ID:        row.StageID,
		Arn:       row.StageArn,
		Endpoints: model.JSONMapToStringMap(row.Endpoints),
		CreatedAt: row.CreatedAt,
	}
}

// FromStageDomain converts a StageRecord to a stages row
func FromStageDomain(stage *domain.StageRecord) *Stage {
	if stage == nil {
		return nil
	}
	return &Stage{
		StageID:   stage.ID,
		StageArn:  stage.Arn,
		Endpoints: model.StringMapToJSONMap(stage.Endpoints),
		CreatedAt: stage.CreatedAt,
		UpdatedAt: stage.CreatedAt,
	}
}

// FromWorkerEventDomain flattens a worker change event into an audit row
func FromWorkerEventDomain(event *domain.WorkerEvent) *WorkerEvent {
	if event == nil {
		return nil
	}

	row := &WorkerEvent{
		EventID:   event.EventID,
		ChangeID:  event.ChangeID,
		WorkerID:  event.WorkerID,
		EventType: event.Type,
		Source:    event.Source,
		EventTime: event.At,
	}
	if event.Before != nil {
		row.PrevStatus = string(event.Before.Status)
	}

	// The audit row describes the resulting state, or the last known one on removal
	current := event.After
	if current == nil {
		current = event.Before
	}
	if current != nil {
		if event.After != nil {
			row.Status = string(current.Status)
		}
		row.StageArn = current.AssignedStageArn
		row.TaskID = current.TaskID
		meta := JSONMap{"running": current.Running}
		if current.AssetName != "" {
			meta["asset_name"] = current.AssetName
		}
		if len(current.StageEndpoints) > 0 {
			meta["stage_endpoints"] = model.StringMapToJSONMap(current.StageEndpoints)
		}
		row.Metadata = meta
	}
	return row
}
