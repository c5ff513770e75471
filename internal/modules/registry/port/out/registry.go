package out

import (
	"context"

	"plughost/internal/modules/registry/domain"
)

// RecordStore persists install records keyed by (user, plugin).
type RecordStore interface {
	List(ctx context.Context, userID string) ([]domain.Record, error)
	Find(ctx context.Context, userID, pluginID string) (domain.Record, error)
	Insert(ctx context.Context, record domain.Record) error
	Update(ctx context.Context, record domain.Record) error
	Delete(ctx context.Context, userID, pluginID string) error
}

type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error)
}
