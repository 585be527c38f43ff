package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mosaicapp/media-pipeline/internal/api/dto"
	"github.com/mosaicapp/media-pipeline/internal/auth"
	"github.com/mosaicapp/media-pipeline/internal/job"
)

const (
	maxImagesPerRequest = 10
	maxImageBytes       = 10 << 20
)

// UploadImages handles POST /api/v1/media/:media_id/images
// Accepts multipart image files and enqueues an upload job. The work
// itself happens asynchronously; clients follow progress over the
// websocket endpoint.
func (h *MediaHandler) UploadImages(c *gin.Context) {
	mediaID := c.Param("media_id")

	h.logger.Info("UploadImages called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("media_id", mediaID),
	)

	if !h.authorizeOwner(c, mediaID) {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Error("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form",
		})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "At least one image file is required",
		})
		return
	}
	if len(files) > maxImagesPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Too many images, limit is " + strconv.Itoa(maxImagesPerRequest),
		})
		return
	}

	items := make([]job.Item, 0, len(files))
	for i, fh := range files {
		if fh.Size > maxImageBytes {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Image " + fh.Filename + " exceeds the size limit",
			})
			return
		}

		f, err := fh.Open()
		if err != nil {
			h.logger.Error("Failed to open uploaded file",
				slog.String("filename", fh.Filename),
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read uploaded file",
			})
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
		f.Close()
		if err != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read uploaded file",
			})
			return
		}

		items = append(items, job.Item{
			Name:     fh.Filename,
			Data:     base64.StdEncoding.EncodeToString(data),
			Position: i,
		})
	}

	h.enqueue(c, mediaID, job.OperationUpload, items)
}

// DeleteImages handles DELETE /api/v1/media/:media_id/images
// Enqueues a delete job covering every persisted image of the media.
func (h *MediaHandler) DeleteImages(c *gin.Context) {
	mediaID := c.Param("media_id")

	h.logger.Info("DeleteImages called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("media_id", mediaID),
	)

	if !h.authorizeOwner(c, mediaID) {
		return
	}

	records, err := h.store.ListImages(c.Request.Context(), mediaID)
	if err != nil {
		h.logger.Error("Failed to list images", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list images",
		})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No images to delete",
		})
		return
	}

	items := make([]job.Item, 0, len(records))
	for _, r := range records {
		items = append(items, job.Item{
			URL:      r.URL,
			Position: r.Position,
		})
	}

	h.enqueue(c, mediaID, job.OperationDelete, items)
}

// ListImages handles GET /api/v1/media/:media_id/images
// Returns the persisted images ordered by position.
func (h *MediaHandler) ListImages(c *gin.Context) {
	mediaID := c.Param("media_id")

	if !h.authorizeOwner(c, mediaID) {
		return
	}

	records, err := h.store.ListImages(c.Request.Context(), mediaID)
	if err != nil {
		h.logger.Error("Failed to list images", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list images",
		})
		return
	}

	images := make([]dto.ImageDTO, len(records))
	for i, r := range records {
		images[i] = dto.ImageDTO{
			ID:       r.ID,
			URL:      r.URL,
			Position: r.Position,
		}
	}

	c.JSON(http.StatusOK, dto.ListImagesResponse{
		MediaID: mediaID,
		Images:  images,
	})
}

// authorizeOwner validates the media id and checks the caller owns the
// record. It writes the error response itself and reports whether the
// handler may continue.
func (h *MediaHandler) authorizeOwner(c *gin.Context, mediaID string) bool {
	if _, err := uuid.Parse(mediaID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "media_id must be a valid UUID",
		})
		return false
	}

	owner, err := h.store.GetMediaOwner(c.Request.Context(), mediaID)
	if errors.Is(err, job.ErrMediaNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Media not found",
		})
		return false
	}
	if err != nil {
		h.logger.Error("Ownership lookup failed",
			slog.String("media_id", mediaID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to verify ownership",
		})
		return false
	}
	if owner != auth.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Not authorized for this media",
		})
		return false
	}
	return true
}

// enqueue builds a job, publishes it, and answers 202 with the job id.
// Validation failures never reach the queue.
func (h *MediaHandler) enqueue(c *gin.Context, mediaID, operation string, items []job.Item) {
	j, err := job.New(h.queueName, operation, mediaID, items)
	if err != nil {
		h.logger.Error("Job validation failed",
			slog.String("media_id", mediaID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid job payload",
		})
		return
	}

	body, err := j.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to serialize job",
		})
		return
	}

	if err := h.queue.PublishJob(c.Request.Context(), body); err != nil {
		h.logger.Error("Failed to publish job",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", j.JobID),
		slog.String("media_id", mediaID),
		slog.String("operation", operation),
		slog.Int("items", len(items)),
	)

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		JobID:     j.JobID,
		MediaID:   mediaID,
		Operation: operation,
		Status:    "queued",
	})
}
