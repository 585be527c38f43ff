package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventBroker is the slice of the message client the publisher needs.
type EventBroker interface {
	PublishEvent(ctx context.Context, body []byte) error
}

// Publisher sends status events from worker executors into the event
// fanout exchange. Publishing is fire-and-forget from the caller's view:
// a failed publish is retried a few times and then logged, never
// propagated into the job result.
type Publisher struct {
	broker     EventBroker
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewPublisher creates a publisher with the default retry policy
// (3 attempts, 1s apart).
func NewPublisher(broker EventBroker, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker:     broker,
		logger:     logger,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Publish broadcasts one status event. Safe for concurrent use by
// multiple executors.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	body, err := ev.Marshal()
	if err != nil {
		p.logger.Error("Failed to marshal status event",
			slog.String("media_id", ev.MediaID),
			slog.String("status", ev.Status),
			slog.Any("error", err),
		)
		return
	}

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err = p.broker.PublishEvent(ctx, body); err == nil {
			p.logger.Debug("Status event published",
				slog.String("media_id", ev.MediaID),
				slog.String("status", ev.Status),
				slog.Int("images", len(ev.Images)),
			)
			return
		}

		if attempt < p.maxRetries {
			p.logger.Warn("Failed to publish status event, retrying",
				slog.String("media_id", ev.MediaID),
				slog.String("status", ev.Status),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	p.logger.Error("Failed to publish status event, giving up",
		slog.String("media_id", ev.MediaID),
		slog.String("status", ev.Status),
		slog.Int("attempts", p.maxRetries),
		slog.Any("error", err),
	)
}
