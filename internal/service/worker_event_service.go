package service

import (
	"context"
	"time"

	"vpool/pkg/logger"
	"vpool/pkg/store/mysql"
)

// WorkerEventService reads and prunes the worker change audit trail
type WorkerEventService struct {
	events *mysql.WorkerEventRepository
}

// NewWorkerEventService creates a new worker event service
func NewWorkerEventService(events *mysql.WorkerEventRepository) *WorkerEventService {
	return &WorkerEventService{events: events}
}

// History returns a worker's most recent audit events
func (s *WorkerEventService) History(ctx context.Context, workerID string, limit int) ([]*mysql.WorkerEvent, error) {
	return s.events.ListByWorker(ctx, workerID, limit)
}

// Cleanup deletes audit events older than retention
func (s *WorkerEventService) Cleanup(ctx context.Context, retention time.Duration) error {
	deleted, err := s.events.CleanupOldEvents(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.InfoCtx(ctx, "cleaned up %d worker events older than %s", deleted, retention)
	}
	return nil
}
