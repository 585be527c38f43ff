package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of work a job performs.
const (
	OperationUpload = "upload"
	OperationDelete = "delete"
)

// Media processing status values carried on status events.
const (
	StatusProcessing       = "processing"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusDeleteProcessing = "delete_processing"
	StatusDeleteCompleted  = "delete_completed"
	StatusDeleteFailed     = "delete_failed"
)

// MaxAttempts is the retry ceiling for a single job. Once attempt_count
// exceeds it the job is published as failed and never redelivered.
const MaxAttempts = 5

// Item is one payload entry. Upload jobs carry base64 image data; delete
// jobs carry the stored URL. Position is the client-assigned ordering and
// is preserved through the whole pipeline.
type Item struct {
	Name     string `json:"name,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Position int    `json:"position"`
}

// Job is the unit of background work. It is immutable once enqueued
// except AttemptCount, which the dispatcher increments on each retry.
type Job struct {
	JobID        string    `json:"job_id"`
	Queue        string    `json:"queue"`
	Operation    string    `json:"operation"`
	MediaID      string    `json:"media_id"`
	Items        []Item    `json:"items"`
	AttemptCount int       `json:"attempt_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// New builds a validated job for the given operation.
func New(queue, operation, mediaID string, items []Item) (*Job, error) {
	j := &Job{
		JobID:     uuid.New().String(),
		Queue:     queue,
		Operation: operation,
		MediaID:   mediaID,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks the job before it is allowed onto a queue. Enqueue
// fails fast here; an invalid job is never dispatched.
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: missing job_id", ErrInvalidPayload)
	}
	if _, err := uuid.Parse(j.JobID); err != nil {
		return fmt.Errorf("%w: job_id is not a UUID", ErrInvalidPayload)
	}
	if j.MediaID == "" {
		return fmt.Errorf("%w: missing media_id", ErrInvalidPayload)
	}
	if j.Operation != OperationUpload && j.Operation != OperationDelete {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidPayload, j.Operation)
	}
	if len(j.Items) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	return nil
}

// Marshal serializes the job for the wire.
func (j *Job) Marshal() ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return body, nil
}

// Unmarshal parses a job off the wire and validates it.
func Unmarshal(body []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// IsTerminalStatus reports whether a status ends the job lifecycle.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusDeleteCompleted, StatusDeleteFailed:
		return true
	}
	return false
}
