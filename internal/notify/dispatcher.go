// Package notify delivers network notifications: it persists them, pushes them to
// live stream subscribers and forwards them to the message broker.
package notify

import (
	"context"

	"go.uber.org/zap"

	"tiernet.org/internal/network"
)

// Publisher forwards an event to an external broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Broadcaster pushes a notification to in-process listeners.
type Broadcaster interface {
	Publish(n network.Notification)
}

// Dispatcher implements network.Notifier. Persistence failures are returned; stream
// and broker failures are logged only.
type Dispatcher struct {
	store     network.NotificationStore
	stream    Broadcaster
	publisher Publisher
	logger    *zap.Logger
}

// Option configures Dispatcher.
type Option func(*Dispatcher)

// WithStream fans notifications out to b.
func WithStream(b Broadcaster) Option { return func(d *Dispatcher) { d.stream = b } }

// WithPublisher forwards notifications to p.
func WithPublisher(p Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher builds a dispatcher over store.
func NewDispatcher(store network.NotificationStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RoutingKey is the broker routing key for a notification kind.
func RoutingKey(kind string) string {
	return "notification." + kind
}

func (d *Dispatcher) Notify(ctx context.Context, n network.Notification) error {
	if err := d.store.Create(ctx, n); err != nil {
		return err
	}
	if d.stream != nil {
		d.stream.Publish(n)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, RoutingKey(n.Kind), n); err != nil {
			d.logger.Warn("notification not forwarded",
				zap.String("notification_id", n.ID),
				zap.String("kind", n.Kind),
				zap.Error(err))
		}
	}
	return nil
}
