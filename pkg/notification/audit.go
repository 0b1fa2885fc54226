package notification

import (
	"context"

	"vpool/internal/model"
	"vpool/pkg/store/mysql"
)

type eventWriter interface {
	Create(ctx context.Context, event *mysql.WorkerEvent) error
}

// AuditSubscriber records every worker event in the worker_events table
type AuditSubscriber struct {
	events eventWriter
}

// NewAuditSubscriber creates an audit subscriber
func NewAuditSubscriber(events *mysql.WorkerEventRepository) *AuditSubscriber {
	return &AuditSubscriber{events: events}
}

// Name implements interfaces.Subscriber
func (a *AuditSubscriber) Name() string {
	return "audit"
}

// Deliver writes the event; a redelivered event id is a no-op
func (a *AuditSubscriber) Deliver(ctx context.Context, event *model.WorkerEvent) error {
	return a.events.Create(ctx, mysql.FromWorkerEventDomain(event))
}
