package service

import (
	"context"
	"reflect"
	"sync"
	"time"

	"vpool/internal/model"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"

	"github.com/google/uuid"
)

// eventNamespace seeds deterministic event ids, so a redelivered change keeps its id
var eventNamespace = uuid.MustParse("5b0c2a1e-8f3d-4c6b-9a7e-2d1f0e4b6c83")

// Notifier forwards meaningful worker changes to subscribers
type Notifier struct {
	subscribers []interfaces.Subscriber
	timeout     time.Duration
}

// NewNotifier creates a notifier; timeout bounds each delivery
func NewNotifier(timeout time.Duration, subscribers ...interfaces.Subscriber) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		subscribers: subscribers,
		timeout:     timeout,
	}
}

// Subscribers returns the names of the configured subscribers
func (n *Notifier) Subscribers() []string {
	names := make([]string, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		names = append(names, s.Name())
	}
	return names
}

// IsMeaningfulChange reports whether a change touches anything but bookkeeping fields.
// Inserts and removals are always meaningful.
func IsMeaningfulChange(before, after *model.WorkerRecord) bool {
	if before == nil || after == nil {
		return before != after
	}
	return before.Status != after.Status ||
		before.AssignedStageArn != after.AssignedStageArn ||
		before.Running != after.Running ||
		before.TaskID != after.TaskID ||
		!endpointsEqual(before.StageEndpoints, after.StageEndpoints)
}

func endpointsEqual(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// NewWorkerEvent builds the subscriber payload for a change
func NewWorkerEvent(change model.WorkerChange) *model.WorkerEvent {
	eventType := model.WorkerEventModify
	switch {
	case change.Before == nil:
		eventType = model.WorkerEventInsert
	case change.After == nil:
		eventType = model.WorkerEventRemove
	}

	return &model.WorkerEvent{
		EventID:  uuid.NewSHA1(eventNamespace, []byte(change.ID)).String(),
		ChangeID: change.ID,
		WorkerID: change.WorkerID,
		Type:     eventType,
		Source:   change.Source,
		Before:   change.Before,
		After:    change.After,
		At:       change.At,
	}
}

// ProcessBatch delivers every meaningful change to every subscriber concurrently
// and returns the ids of changes at least one subscriber failed to take.
func (n *Notifier) ProcessBatch(ctx context.Context, changes []model.WorkerChange) []string {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := make([]string, 0)
	failedSet := make(map[string]bool)

	for _, change := range changes {
		if !IsMeaningfulChange(change.Before, change.After) {
			continue
		}
		event := NewWorkerEvent(change)

		for _, sub := range n.subscribers {
			wg.Add(1)
			go func(sub interfaces.Subscriber, event *model.WorkerEvent) {
				defer wg.Done()

				deliverCtx, cancel := context.WithTimeout(ctx, n.timeout)
				defer cancel()

				if err := sub.Deliver(deliverCtx, event); err != nil {
					logger.WarnCtx(ctx, "subscriber %s failed for worker %s change %s: %v",
						sub.Name(), event.WorkerID, event.ChangeID, err)
					mu.Lock()
					if !failedSet[event.ChangeID] {
						failedSet[event.ChangeID] = true
						failed = append(failed, event.ChangeID)
					}
					mu.Unlock()
				}
			}(sub, event)
		}
	}
	wg.Wait()

	return failed
}

// PollResult outcome of one pass over the change feed
type PollResult struct {
	Read   int
	Acked  int
	Failed int
}

// PollOnce reads one batch from the feed, delivers it and acknowledges everything
// that did not fail. Failed changes stay pending for the next pass.
func (n *Notifier) PollOnce(ctx context.Context, source interfaces.ChangeSource) (*PollResult, error) {
	changes, err := source.Next(ctx)
	if err != nil {
		return nil, err
	}
	result := &PollResult{Read: len(changes)}
	if len(changes) == 0 {
		return result, nil
	}

	failed := make(map[string]bool)
	for _, id := range n.ProcessBatch(ctx, changes) {
		failed[id] = true
	}

	ack := make([]string, 0, len(changes))
	for _, c := range changes {
		if !failed[c.ID] {
			ack = append(ack, c.ID)
		}
	}
	if err := source.Ack(ctx, ack); err != nil {
		return nil, err
	}

	result.Acked = len(ack)
	result.Failed = len(failed)
	return result, nil
}
