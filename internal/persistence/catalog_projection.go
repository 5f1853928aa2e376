package persistence

import (
	"context"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error) bool
}

// RunCatalogProjection records every saved session in the recording catalog
// until ctx is done or the bus is closed. The caller subscribes sub to
// connectors.TopicSessionSaved beforehand.
func RunCatalogProjection(ctx context.Context, b bus.MessageBus, sub bus.Subscription, queue WriteQueue, repo domain.RecordingRepository) {
	bus.Consume(ctx, b, sub, connectors.TopicSessionSaved, func(event domain.SessionSaved) {
		rec := event.Recording
		queue.Enqueue("insert_recording", func(writeCtx context.Context) error {
			return repo.Insert(writeCtx, rec)
		})
	})
}
