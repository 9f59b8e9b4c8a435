// Package bus fans chat events out from the message write path to every
// server instance feeding websocket sessions.
package bus

import (
	"context"

	"github.com/beatmart/chatsync/internal/models"
)

// Handler consumes one event. Handlers must not block; slow work should
// be handed off by the subscriber.
type Handler func(event *models.Event)

// Subscription is a live event subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus publishes chat events and delivers them to subscribers in
// publish order. Routing to conversations happens on the consumer side
// by inspecting the event payload.
type Bus interface {
	Publish(ctx context.Context, event *models.Event) error
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
	Close()
}
