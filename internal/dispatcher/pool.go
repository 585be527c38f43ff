package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnExecutors starts the fixed pool of executor goroutines.
func (d *Dispatcher) spawnExecutors(ctx context.Context) {
	d.logger.Info("Spawning executor pool",
		slog.Int("concurrency", d.concurrency),
		slog.String("dispatcher_id", d.dispatcherID),
	)

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.executorLoop(ctx, i)
	}
}

// executorLoop is the processing loop for one executor goroutine. One
// job at a time; the ack/nack decision is made here after processing.
func (d *Dispatcher) executorLoop(ctx context.Context, executorNum int) {
	defer d.wg.Done()

	executorName := fmt.Sprintf("%s-%d", d.dispatcherID, executorNum)
	d.logger.Info("Executor started",
		slog.String("executor", executorName),
	)

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Executor stopping - stop requested",
				slog.String("executor", executorName),
			)
			return

		case <-ctx.Done():
			d.logger.Info("Executor stopping - context canceled",
				slog.String("executor", executorName),
			)
			return

		case jd, ok := <-d.jobsChan:
			if !ok {
				return
			}

			d.logger.Info("Executor claimed job",
				slog.String("executor", executorName),
				slog.String("job_id", jd.job.JobID),
				slog.String("operation", jd.job.Operation),
				slog.Int("attempt_count", jd.job.AttemptCount),
			)

			requeue := d.processDelivery(ctx, jd)

			channel := d.rabbit.GetChannel()
			if channel == nil {
				d.logger.Error("Failed to get channel for ACK/NACK",
					slog.String("executor", executorName),
					slog.String("job_id", jd.job.JobID),
				)
				continue
			}

			// Retries are republished to the retry queue, so the original
			// delivery is acked on every path except a failed republish.
			if requeue {
				if err := channel.Nack(jd.deliveryTag, false, true); err != nil {
					d.logger.Error("Failed to NACK message",
						slog.String("executor", executorName),
						slog.String("job_id", jd.job.JobID),
						slog.Any("error", err),
					)
				}
				continue
			}

			if err := channel.Ack(jd.deliveryTag, false); err != nil {
				d.logger.Error("Failed to ACK message",
					slog.String("executor", executorName),
					slog.String("job_id", jd.job.JobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
