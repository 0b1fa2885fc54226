package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// WorkerEventRepository worker change audit trail
type WorkerEventRepository struct {
	ds *Datastore
}

// NewWorkerEventRepository creates a new worker event repository
func NewWorkerEventRepository(ds *Datastore) *WorkerEventRepository {
	return &WorkerEventRepository{ds: ds}
}

// Create records an event. Redelivered events (same event_id) are ignored.
func (r *WorkerEventRepository) Create(ctx context.Context, event *WorkerEvent) error {
	err := r.ds.DB(ctx).Create(event).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to create worker event: %w", err)
	}
	return nil
}

// ListByWorker returns a worker's most recent events
func (r *WorkerEventRepository) ListByWorker(ctx context.Context, workerID string, limit int) ([]*WorkerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*WorkerEvent
	err := r.ds.DB(ctx).
		Where("worker_id = ?", workerID).
		Order("event_time DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list worker events: %w", err)
	}
	return events, nil
}

// CleanupOldEvents deletes events older than before
func (r *WorkerEventRepository) CleanupOldEvents(ctx context.Context, before time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("event_time < ?", before).Delete(&WorkerEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup worker events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
