package ports

import (
	"context"

	"github.com/aretw0/productflow/pkg/domain"
)

// Notifier receives workflow events. Publish must not block the caller for
// long and its failures never affect the workflow.
type Notifier interface {
	Publish(ctx context.Context, event domain.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event domain.Event)

// Publish calls f.
func (f NotifierFunc) Publish(ctx context.Context, event domain.Event) {
	f(ctx, event)
}
