package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mosaicapp/media-pipeline/internal/job"
	"github.com/mosaicapp/media-pipeline/internal/notify"
	"github.com/mosaicapp/media-pipeline/internal/storage"
	"github.com/mosaicapp/media-pipeline/shared/rabbitmq"
)

// MediaStore persists job results.
type MediaStore interface {
	UpsertImages(ctx context.Context, mediaID string, images []storage.ImageRecord) ([]storage.ImageRecord, error)
	DeleteImagesByURL(ctx context.Context, mediaID string, urls []string) error
}

// ObjectStore performs remote uploads and deletes, one call at a time.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	KeyPrefix() string
	KeyFromURL(url string) string
}

// TransformPool runs CPU-bound transforms with bounded parallelism.
type TransformPool interface {
	ProcessAll(ctx context.Context, blobs [][]byte) ([][]byte, error)
}

// EventPublisher broadcasts status events. Fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, ev notify.Event)
}

// RetryQueue re-enqueues a job for delayed redelivery.
type RetryQueue interface {
	PublishRetry(ctx context.Context, body []byte, delay time.Duration) error
}

// Config holds dispatcher configuration.
type Config struct {
	Logger      *slog.Logger
	Rabbit      *rabbitmq.Client
	Retry       RetryQueue
	Store       MediaStore
	Objects     ObjectStore
	Transforms  TransformPool
	Events      EventPublisher
	Concurrency int
	Prefetch    int
	JobTimeout  time.Duration
	MaxAttempts int
}

// Dispatcher claims jobs off the work queue with a fixed pool of
// executors. Each executor runs one job at a time; within a job, the
// CPU-bound transform step fans out across the transform pool while
// remote I/O stays serial in the executor.
type Dispatcher struct {
	logger       *slog.Logger
	rabbit       *rabbitmq.Client
	retry        RetryQueue
	store        MediaStore
	objects      ObjectStore
	transforms   TransformPool
	events       EventPublisher
	concurrency  int
	prefetch     int
	jobTimeout   time.Duration
	maxAttempts  int
	dispatcherID string
	jobsChan     chan *jobDelivery
	wg           sync.WaitGroup
	stopChan     chan struct{}
}

// NewDispatcher creates a new dispatcher instance.
func NewDispatcher(cfg *Config) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 300 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = job.MaxAttempts
	}

	retry := cfg.Retry
	if retry == nil && cfg.Rabbit != nil {
		retry = cfg.Rabbit
	}

	return &Dispatcher{
		logger:       cfg.Logger,
		rabbit:       cfg.Rabbit,
		retry:        retry,
		store:        cfg.Store,
		objects:      cfg.Objects,
		transforms:   cfg.Transforms,
		events:       cfg.Events,
		concurrency:  concurrency,
		prefetch:     prefetch,
		jobTimeout:   jobTimeout,
		maxAttempts:  maxAttempts,
		dispatcherID: "dispatcher-" + uuid.New().String()[:8],
		jobsChan:     make(chan *jobDelivery),
		stopChan:     make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. Blocks until the context
// is canceled or the consumer fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		slog.String("dispatcher_id", d.dispatcherID),
		slog.Int("concurrency", d.concurrency),
		slog.Duration("job_timeout", d.jobTimeout),
		slog.Int("max_attempts", d.maxAttempts),
	)

	deliveries, err := d.rabbit.Consume(d.dispatcherID, d.prefetch)
	if err != nil {
		return err
	}

	d.spawnExecutors(ctx)
	d.runConsumer(ctx, deliveries)

	return nil
}

// Stop signals the executor pool and waits for in-flight jobs.
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping dispatcher",
		slog.String("dispatcher_id", d.dispatcherID),
	)
	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}
