package handler

import (
	"context"
	"log/slog"

	"github.com/mosaicapp/media-pipeline/internal/storage"
)

// MediaStore is the persistence surface the handlers need.
type MediaStore interface {
	GetMediaOwner(ctx context.Context, mediaID string) (string, error)
	ListImages(ctx context.Context, mediaID string) ([]storage.ImageRecord, error)
}

// JobQueue enqueues serialized jobs for the worker pool.
type JobQueue interface {
	PublishJob(ctx context.Context, body []byte) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  MediaStore
	Queue  JobQueue
	// QueueName is stamped onto every enqueued job.
	QueueName string
}

// MediaHandler handles media image HTTP requests
type MediaHandler struct {
	logger    *slog.Logger
	store     MediaStore
	queue     JobQueue
	queueName string
}

// NewMediaHandler creates a new MediaHandler instance
func NewMediaHandler(deps *Dependencies) *MediaHandler {
	return &MediaHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		queue:     deps.Queue,
		queueName: deps.QueueName,
	}
}
