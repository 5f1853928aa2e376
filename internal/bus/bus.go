package bus

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

// DefaultCapacity is the per-subscriber buffer used when none is given.
// Sensor payloads arrive at several hundred events per second, so it is
// sized well above the UI-oriented topics.
const DefaultCapacity = 1024

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	return NewWithCapacity(logger, DefaultCapacity)
}

func NewWithCapacity(logger *slog.Logger, capacity int) *PubSubBus {
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	if b.logger.Enabled(context.Background(), slog.LevelDebug) {
		b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	}
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topic string) Subscription {
	ch := b.ps.Sub(topic)
	b.logger.Debug("subscribe", "topic", topic)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

// Consume calls fn for every message of type T received on sub until ctx
// is done or the bus is closed, then unsubscribes. Messages of other types
// are skipped. Subscribe before starting the goroutine so nothing published
// in between is lost.
func Consume[T any](ctx context.Context, b MessageBus, sub Subscription, topic string, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			// pubsub delivers synchronously; keep reading until Unsub closes
			// the channel so a pending publish cannot block it.
			go drain(sub)
			b.Unsubscribe(sub, topic)
			return
		case raw, ok := <-sub:
			if !ok {
				// closed by bus shutdown; nothing left to unsubscribe from
				return
			}
			msg, ok := raw.(T)
			if !ok {
				continue
			}
			fn(msg)
		}
	}
}

func drain(sub Subscription) {
	for range sub {
	}
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
