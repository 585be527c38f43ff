package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mosaicapp/media-pipeline/internal/job"
	"github.com/mosaicapp/media-pipeline/internal/notify"
	"github.com/mosaicapp/media-pipeline/internal/storage"
)

// processDelivery runs one job to a terminal outcome or a scheduled
// retry. The return value is the requeue decision: true only when a
// retry could not be republished and the broker must redeliver.
func (d *Dispatcher) processDelivery(ctx context.Context, jd *jobDelivery) bool {
	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	err := d.executeJob(jobCtx, jd.job)
	if err == nil {
		d.logger.Info("Job completed",
			slog.String("job_id", jd.job.JobID),
			slog.String("operation", jd.job.Operation),
			slog.String("media_id", jd.job.MediaID),
		)
		return false
	}

	// The job context may already be expired; failure handling publishes
	// with the dispatcher's own context.
	return d.handleFailure(ctx, jd.job, err)
}

// executeJob routes the job to its operation handler.
func (d *Dispatcher) executeJob(ctx context.Context, j *job.Job) error {
	switch j.Operation {
	case job.OperationUpload:
		return d.runUpload(ctx, j)
	case job.OperationDelete:
		return d.runDelete(ctx, j)
	default:
		return fmt.Errorf("%w: unknown operation %q", job.ErrInvalidPayload, j.Operation)
	}
}

// runUpload transforms every payload item in the CPU pool, uploads the
// results serially, persists the records, and publishes the terminal
// event. The processing event is published only on the first attempt so
// a transient retry emits nothing until it reaches a terminal state.
func (d *Dispatcher) runUpload(ctx context.Context, j *job.Job) error {
	if j.AttemptCount == 0 {
		d.events.Publish(ctx, notify.NewEvent(j.MediaID, job.StatusProcessing, nil, ""))
	}

	blobs := make([][]byte, len(j.Items))
	for i, item := range j.Items {
		data, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return fmt.Errorf("%w: item %d is not valid base64", job.ErrInvalidPayload, i)
		}
		blobs[i] = data
	}

	transformed, err := d.transforms.ProcessAll(ctx, blobs)
	if err != nil {
		return fmt.Errorf("transform failed: %w", err)
	}

	// Serial uploads, one timeout per call. Deterministic keys keep a
	// retried job idempotent: re-uploading overwrites the same object.
	records := make([]storage.ImageRecord, len(j.Items))
	for i, item := range j.Items {
		key := fmt.Sprintf("%s_%d_%s", j.MediaID, item.Position, item.Name)
		url, err := d.objects.Upload(ctx, key, transformed[i], "image/jpeg")
		if err != nil {
			return fmt.Errorf("upload of item %d failed: %w", i, err)
		}
		records[i] = storage.ImageRecord{
			URL:      url,
			Position: item.Position,
		}
	}

	persisted, err := d.store.UpsertImages(ctx, j.MediaID, records)
	if err != nil {
		return fmt.Errorf("failed to persist images: %w", err)
	}

	images := make([]notify.Image, len(persisted))
	for i, rec := range persisted {
		images[i] = notify.Image{
			ID:       rec.ID,
			URL:      rec.URL,
			Position: rec.Position,
		}
	}

	d.events.Publish(ctx, notify.NewEvent(j.MediaID, job.StatusCompleted, images, ""))
	return nil
}

// runDelete removes each item's remote object, prunes the persisted
// records, and publishes the terminal event. Same shape as upload minus
// the transform step.
func (d *Dispatcher) runDelete(ctx context.Context, j *job.Job) error {
	if j.AttemptCount == 0 {
		msg := fmt.Sprintf("deleting %d images", len(j.Items))
		d.events.Publish(ctx, notify.NewEvent(j.MediaID, job.StatusDeleteProcessing, nil, msg))
	}

	prefix := d.objects.KeyPrefix()
	deleted := make([]notify.Image, 0, len(j.Items))
	deletedURLs := make([]string, 0, len(j.Items))

	for _, item := range j.Items {
		if item.URL == "" {
			continue
		}

		key := d.objects.KeyFromURL(item.URL)
		// Only touch objects inside our own namespace.
		if key == "" || (prefix != "" && !strings.HasPrefix(key, prefix)) {
			d.logger.Warn("Skipping delete of foreign object",
				slog.String("media_id", j.MediaID),
				slog.String("url", item.URL),
			)
			continue
		}

		if err := d.objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete of %s failed: %w", key, err)
		}

		deleted = append(deleted, notify.Image{
			URL:      item.URL,
			Position: item.Position,
		})
		deletedURLs = append(deletedURLs, item.URL)
	}

	if err := d.store.DeleteImagesByURL(ctx, j.MediaID, deletedURLs); err != nil {
		return fmt.Errorf("failed to prune image records: %w", err)
	}

	msg := fmt.Sprintf("deleted %d images", len(deleted))
	d.events.Publish(ctx, notify.NewEvent(j.MediaID, job.StatusDeleteCompleted, deleted, msg))
	return nil
}

// handleFailure applies the retry policy: transient errors are
// re-enqueued with backoff until the attempt ceiling, everything else is
// published as failed immediately. Returns the broker requeue decision.
func (d *Dispatcher) handleFailure(ctx context.Context, j *job.Job, jobErr error) bool {
	failedStatus := job.StatusFailed
	if j.Operation == job.OperationDelete {
		failedStatus = job.StatusDeleteFailed
	}

	if job.IsTransient(jobErr) {
		if j.AttemptCount < d.maxAttempts {
			j.AttemptCount++
			delay := Backoff(j.AttemptCount)

			body, err := j.Marshal()
			if err != nil {
				d.logger.Error("Failed to marshal job for retry",
					slog.String("job_id", j.JobID),
					slog.Any("error", err),
				)
				d.events.Publish(ctx, notify.NewEvent(j.MediaID, failedStatus, nil, err.Error()))
				return false
			}

			if err := d.retry.PublishRetry(ctx, body, delay); err != nil {
				d.logger.Error("Failed to schedule retry, requeueing delivery",
					slog.String("job_id", j.JobID),
					slog.Any("error", err),
				)
				return true
			}

			d.logger.Warn("Job failed, retry scheduled",
				slog.String("job_id", j.JobID),
				slog.String("media_id", j.MediaID),
				slog.Int("attempt_count", j.AttemptCount),
				slog.Duration("delay", delay),
				slog.Any("error", jobErr),
			)
			return false
		}

		// Exhaustion converts to terminal.
		d.logger.Error("Job exhausted retry budget",
			slog.String("job_id", j.JobID),
			slog.String("media_id", j.MediaID),
			slog.Int("attempt_count", j.AttemptCount),
			slog.Any("error", jobErr),
		)
		msg := fmt.Sprintf("%s: %s", job.ErrMaxAttemptsExceeded.Error(), jobErr.Error())
		d.events.Publish(ctx, notify.NewEvent(j.MediaID, failedStatus, nil, msg))
		return false
	}

	d.logger.Error("Job failed with terminal error",
		slog.String("job_id", j.JobID),
		slog.String("media_id", j.MediaID),
		slog.String("operation", j.Operation),
		slog.Any("error", jobErr),
	)
	d.events.Publish(ctx, notify.NewEvent(j.MediaID, failedStatus, nil, jobErr.Error()))
	return false
}
