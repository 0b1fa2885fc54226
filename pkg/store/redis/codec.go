package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"vpool/internal/model"
	"vpool/pkg/constants"
)

// writableFields fields accepted in UpdateRequest.Set/Remove/Condition
var writableFields = map[string]bool{
	model.FieldStatus:           true,
	model.FieldTaskID:           true,
	model.FieldAssignedStageArn: true,
	model.FieldStageEndpoints:   true,
	model.FieldAssetName:        true,
	model.FieldRunning:          true,
	model.FieldLastUpdateSource: true,
	model.FieldUpdatedAt:        true,
	model.FieldTTL:              true,
}

// encodeValue renders a field value the way it is stored in the record hash.
// Times are unix milliseconds, maps are JSON, nil is the empty string.
func encodeValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case constants.WorkerStatus:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return strconv.FormatInt(val.UnixMilli(), 10), nil
	case *time.Time:
		if val == nil {
			return "", nil
		}
		return strconv.FormatInt(val.UnixMilli(), 10), nil
	case map[string]string:
		if len(val) == 0 {
			return "", nil
		}
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("failed to marshal map field: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %T", model.ErrInvalidField, v)
	}
}

// encodeRecord flattens a record into HSET field/value pairs, omitting empty optional fields
func encodeRecord(r *model.WorkerRecord) ([]string, error) {
	stage := r.AssignedStageArn
	if stage == "" {
		stage = constants.UnassignedStage
	}

	pairs := []string{
		model.FieldID, r.ID,
		model.FieldStatus, string(r.Status),
		model.FieldAssignedStageArn, stage,
		model.FieldRunning, strconv.FormatBool(r.Running),
		model.FieldLastUpdateSource, r.LastUpdateSource,
		model.FieldCreatedAt, strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
		model.FieldUpdatedAt, strconv.FormatInt(r.UpdatedAt.UnixMilli(), 10),
	}
	if r.TaskID != "" {
		pairs = append(pairs, model.FieldTaskID, r.TaskID)
	}
	if r.AssetName != "" {
		pairs = append(pairs, model.FieldAssetName, r.AssetName)
	}
	if len(r.StageEndpoints) > 0 {
		endpoints, err := encodeValue(r.StageEndpoints)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, model.FieldStageEndpoints, endpoints)
	}
	if r.TTL != nil {
		pairs = append(pairs, model.FieldTTL, strconv.FormatInt(r.TTL.UnixMilli(), 10))
	}
	return pairs, nil
}

// decodeRecord rebuilds a record from its hash; an empty hash yields nil
func decodeRecord(fields map[string]string) (*model.WorkerRecord, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	r := &model.WorkerRecord{
		ID:               fields[model.FieldID],
		Status:           constants.WorkerStatus(fields[model.FieldStatus]),
		TaskID:           fields[model.FieldTaskID],
		AssignedStageArn: fields[model.FieldAssignedStageArn],
		AssetName:        fields[model.FieldAssetName],
		Running:          fields[model.FieldRunning] == "true",
		LastUpdateSource: fields[model.FieldLastUpdateSource],
	}
	if r.AssignedStageArn == "" {
		r.AssignedStageArn = constants.UnassignedStage
	}

	var err error
	if r.CreatedAt, err = decodeMillis(fields[model.FieldCreatedAt]); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = decodeMillis(fields[model.FieldUpdatedAt]); err != nil {
		return nil, err
	}
	if raw := fields[model.FieldTTL]; raw != "" {
		ttl, err := decodeMillis(raw)
		if err != nil {
			return nil, err
		}
		r.TTL = &ttl
	}
	if raw := fields[model.FieldStageEndpoints]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.StageEndpoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage endpoints: %w", err)
		}
	}
	return r, nil
}

func decodeMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
