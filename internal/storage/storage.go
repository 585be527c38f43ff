package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mosaicapp/media-pipeline/internal/job"
)

// ImageRecord is one persisted media image.
type ImageRecord struct {
	ID       int64  `db:"id"`
	MediaID  string `db:"media_id"`
	URL      string `db:"image_url"`
	Position int    `db:"position"`
}

// Storage handles media and image persistence.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetMediaOwner returns the owning user id for a media record.
func (s *Storage) GetMediaOwner(ctx context.Context, mediaID string) (string, error) {
	query := `SELECT user_id FROM media WHERE media_id = $1`

	var userID string
	err := s.db.GetContext(ctx, &userID, query, mediaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", job.ErrMediaNotFound
		}
		return "", fmt.Errorf("failed to get media owner: %w", err)
	}

	return userID, nil
}

// UpsertImages persists uploaded images keyed by (media_id, position).
// Retried jobs hit the conflict branch and refresh the URL instead of
// creating duplicates. Returns the records with ids filled in, in the
// order given.
func (s *Storage) UpsertImages(ctx context.Context, mediaID string, images []ImageRecord) ([]ImageRecord, error) {
	query := `
		INSERT INTO media_images (media_id, image_url, position, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (media_id, position)
		DO UPDATE SET image_url = EXCLUDED.image_url, updated_at = NOW()
		RETURNING id
	`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := make([]ImageRecord, 0, len(images))
	for _, img := range images {
		var id int64
		if err := tx.QueryRowContext(ctx, query, mediaID, img.URL, img.Position).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to upsert image at position %d: %w", img.Position, err)
		}
		result = append(result, ImageRecord{
			ID:       id,
			MediaID:  mediaID,
			URL:      img.URL,
			Position: img.Position,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit image upsert: %w", err)
	}

	s.logger.Debug("Images persisted",
		slog.String("media_id", mediaID),
		slog.Int("count", len(result)),
	)

	return result, nil
}

// ListImages returns a media's images ordered by position.
func (s *Storage) ListImages(ctx context.Context, mediaID string) ([]ImageRecord, error) {
	query := `
		SELECT id, media_id, image_url, position
		FROM media_images
		WHERE media_id = $1
		ORDER BY position ASC
	`

	var images []ImageRecord
	if err := s.db.SelectContext(ctx, &images, query, mediaID); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	return images, nil
}

// DeleteImagesByURL removes persisted records for the given urls.
func (s *Storage) DeleteImagesByURL(ctx context.Context, mediaID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	query := `DELETE FROM media_images WHERE media_id = $1 AND image_url = ANY($2)`

	if _, err := s.db.ExecContext(ctx, query, mediaID, pq.Array(urls)); err != nil {
		return fmt.Errorf("failed to delete image records: %w", err)
	}

	s.logger.Debug("Image records deleted",
		slog.String("media_id", mediaID),
		slog.Int("count", len(urls)),
	)

	return nil
}
