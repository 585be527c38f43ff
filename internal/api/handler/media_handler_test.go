package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicapp/media-pipeline/internal/auth"
	"github.com/mosaicapp/media-pipeline/internal/job"
	"github.com/mosaicapp/media-pipeline/internal/storage"
)

type fakeStore struct {
	owner    string
	ownerErr error
	images   []storage.ImageRecord
	listErr  error
}

func (f *fakeStore) GetMediaOwner(_ context.Context, _ string) (string, error) {
	if f.ownerErr != nil {
		return "", f.ownerErr
	}
	return f.owner, nil
}

func (f *fakeStore) ListImages(_ context.Context, _ string) ([]storage.ImageRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.images, nil
}

type fakeQueue struct {
	published [][]byte
	err       error
}

func (f *fakeQueue) PublishJob(_ context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

func newTestRouter(store *fakeStore, queue *fakeQueue, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewMediaHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     store,
		Queue:     queue,
		QueueName: "media_jobs",
	})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserKey, userID)
	})
	media := r.Group("/api/v1/media/:media_id")
	media.POST("/images", h.UploadImages)
	media.GET("/images", h.ListImages)
	media.DELETE("/images", h.DeleteImages)
	return r
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for name, data := range files {
		fw, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadImages_Accepted(t *testing.T) {
	store := &fakeStore{owner: "user-1"}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	body, contentType := multipartBody(t, map[string][]byte{
		"photo.jpg": []byte("jpeg-bytes"),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/"+mediaID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID     string `json:"job_id"`
		MediaID   string `json:"media_id"`
		Operation string `json:"operation"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, mediaID, resp.MediaID)
	assert.Equal(t, job.OperationUpload, resp.Operation)
	assert.Equal(t, "queued", resp.Status)
	_, err := uuid.Parse(resp.JobID)
	assert.NoError(t, err)

	require.Len(t, queue.published, 1)
	j, err := job.Unmarshal(queue.published[0])
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, j.JobID)
	assert.Equal(t, mediaID, j.MediaID)
	require.Len(t, j.Items, 1)
	assert.Equal(t, "photo.jpg", j.Items[0].Name)
	assert.NotEmpty(t, j.Items[0].Data)
}

func TestUploadImages_EmptyPayloadNeverPublished(t *testing.T) {
	store := &fakeStore{owner: "user-1"}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	body, contentType := multipartBody(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/"+mediaID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, queue.published, "invalid request must never reach the queue")
}

func TestUploadImages_InvalidMediaID(t *testing.T) {
	store := &fakeStore{owner: "user-1"}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")

	body, contentType := multipartBody(t, map[string][]byte{"a.jpg": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/not-a-uuid/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, queue.published)
}

func TestUploadImages_NotOwner(t *testing.T) {
	store := &fakeStore{owner: "someone-else"}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	body, contentType := multipartBody(t, map[string][]byte{"a.jpg": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/"+mediaID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, queue.published)
}

func TestUploadImages_MediaNotFound(t *testing.T) {
	store := &fakeStore{ownerErr: job.ErrMediaNotFound}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	body, contentType := multipartBody(t, map[string][]byte{"a.jpg": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/"+mediaID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, queue.published)
}

func TestUploadImages_QueueUnavailable(t *testing.T) {
	store := &fakeStore{owner: "user-1"}
	queue := &fakeQueue{err: errors.New("broker down")}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	body, contentType := multipartBody(t, map[string][]byte{"a.jpg": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/"+mediaID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteImages_Accepted(t *testing.T) {
	mediaID := uuid.New().String()
	store := &fakeStore{
		owner: "user-1",
		images: []storage.ImageRecord{
			{ID: 1, MediaID: mediaID, URL: "https://store.local/images/a.jpg", Position: 0},
			{ID: 2, MediaID: mediaID, URL: "https://store.local/images/b.jpg", Position: 1},
		},
	}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/media/"+mediaID+"/images", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, queue.published, 1)
	j, err := job.Unmarshal(queue.published[0])
	require.NoError(t, err)
	assert.Equal(t, job.OperationDelete, j.Operation)
	require.Len(t, j.Items, 2)
	assert.Equal(t, "https://store.local/images/a.jpg", j.Items[0].URL)
}

func TestDeleteImages_NoImages(t *testing.T) {
	store := &fakeStore{owner: "user-1"}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, "user-1")
	mediaID := uuid.New().String()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/media/"+mediaID+"/images", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, queue.published)
}

func TestListImages(t *testing.T) {
	mediaID := uuid.New().String()
	store := &fakeStore{
		owner: "user-1",
		images: []storage.ImageRecord{
			{ID: 5, MediaID: mediaID, URL: "https://store.local/images/a.jpg", Position: 0},
		},
	}
	r := newTestRouter(store, &fakeQueue{}, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/"+mediaID+"/images", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		MediaID string `json:"media_id"`
		Images  []struct {
			ID       int64  `json:"id"`
			URL      string `json:"url"`
			Position int    `json:"position"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, mediaID, resp.MediaID)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, int64(5), resp.Images[0].ID)
}
