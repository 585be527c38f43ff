package notify

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventSource is the slice of the message client the relay needs.
type EventSource interface {
	ConsumeEvents(consumerTag string) (<-chan amqp.Delivery, error)
}

// Relay drains the event fanout queue and republishes each status event
// into the in-process hub. It is the bridge between worker processes
// publishing events and the gateway connections subscribed locally.
type Relay struct {
	source EventSource
	hub    *Hub
	logger *slog.Logger
}

// NewRelay creates a relay feeding the given hub.
func NewRelay(source EventSource, hub *Hub, logger *slog.Logger) *Relay {
	return &Relay{
		source: source,
		hub:    hub,
		logger: logger,
	}
}

// Run consumes events until the context is canceled or the delivery
// channel closes. Hub.Publish never blocks, so the relay keeps pace with
// the broker regardless of slow websocket clients.
func (r *Relay) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := r.source.ConsumeEvents(consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start event relay: %w", err)
	}

	r.logger.Info("Event relay started",
		slog.String("consumer_tag", consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event relay stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("Event delivery channel closed")
				return fmt.Errorf("event delivery channel closed")
			}

			ev, err := UnmarshalEvent(delivery.Body)
			if err != nil {
				r.logger.Error("Discarding malformed event",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				continue
			}

			r.hub.Publish(ev)
		}
	}
}
