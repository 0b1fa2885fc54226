package interfaces

import (
	"context"

	"vpool/internal/model"
)

// Subscriber external sink for meaningful worker changes
type Subscriber interface {
	Name() string
	Deliver(ctx context.Context, event *model.WorkerEvent) error
}

// ChangeSource batched worker change feed with selective acknowledgement
type ChangeSource interface {
	// Next returns the next batch, starting with changes left unacknowledged by a previous pass
	Next(ctx context.Context) ([]model.WorkerChange, error)
	// Ack acknowledges delivered changes by feed id
	Ack(ctx context.Context, ids []string) error
}
