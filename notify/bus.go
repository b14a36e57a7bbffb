package notify

import (
	"context"

	"github.com/campushub/campushub/protocol"
	"github.com/campushub/campushub/types"
	"github.com/rs/zerolog/log"
)

// Bus carries newly created notifications to the instance holding the
// recipient's push channel.
type Bus interface {
	// Publish hands n to the bus. Notifications published for one user
	// are delivered in publish order.
	Publish(ctx context.Context, n *types.Notification) error
	// Run processes inbound traffic until ctx is done.
	Run(ctx context.Context) error
}

// LocalBus delivers straight into the in-process registry.
type LocalBus struct {
	registry *Registry
}

// NewLocalBus creates a bus for a single server instance.
func NewLocalBus(registry *Registry) *LocalBus {
	return &LocalBus{registry: registry}
}

func (b *LocalBus) Publish(_ context.Context, n *types.Notification) error {
	deliver(b.registry, n)
	return nil
}

func (b *LocalBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// deliver pushes n to its recipient if they have an open channel here. A
// missing or failing channel is not an error: the notification is stored
// and the client backfills on reconnect.
func deliver(registry *Registry, n *types.Notification) bool {
	ch, ok := registry.Lookup(n.UserID)
	if !ok {
		pushDeliveries.WithLabelValues(deliveryOffline).Inc()
		return false
	}

	if err := ch.Send(protocol.NotificationFrame(n)); err != nil {
		pushDeliveries.WithLabelValues(deliveryFailed).Inc()
		log.Warn().
			Err(err).
			Str("user_id", n.UserID.String()).
			Str("notification_id", n.ID.String()).
			Str("conn_id", ch.ID().String()).
			Msg("Failed to push notification")
		return false
	}

	pushDeliveries.WithLabelValues(deliveryDelivered).Inc()
	log.Debug().
		Str("user_id", n.UserID.String()).
		Str("notification_id", n.ID.String()).
		Str("conn_id", ch.ID().String()).
		Msg("Notification pushed")
	return true
}
