package dispatcher

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mosaicapp/media-pipeline/internal/job"
)

// jobDelivery pairs a parsed job with its broker delivery tag.
type jobDelivery struct {
	job         *job.Job
	deliveryTag uint64
}

// runConsumer reads broker deliveries, parses them, and hands them to
// the executor pool. Malformed messages are rejected without requeue.
func (d *Dispatcher) runConsumer(ctx context.Context, deliveries <-chan amqp.Delivery) {
	d.logger.Info("Job consumer started",
		slog.String("dispatcher_id", d.dispatcherID),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Job consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Warn("Job delivery channel closed")
				return
			}

			j, err := job.Unmarshal(delivery.Body)
			if err != nil {
				d.logger.Error("Rejecting malformed job message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				// No requeue: a malformed message can never become valid.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					d.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			jd := &jobDelivery{
				job:         j,
				deliveryTag: delivery.DeliveryTag,
			}

			select {
			case d.jobsChan <- jd:
				d.logger.Debug("Job dispatched to executor pool",
					slog.String("job_id", j.JobID),
					slog.String("operation", j.Operation),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				d.logger.Info("Job consumer stopped while dispatching")
				// Requeue so another dispatcher picks it up.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					d.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}
