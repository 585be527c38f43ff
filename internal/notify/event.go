package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound event types carried on the wire.
const (
	TypeImageUpdate  = "image_update"
	TypeStatusUpdate = "status_update"
)

// Image is one result item in a status event. Position mirrors the
// payload input order.
type Image struct {
	ID       int64  `json:"id,omitempty"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// Event is a transient status broadcast for one media resource. It is
// never persisted; clients that miss one reconcile via request_status.
type Event struct {
	Type      string  `json:"type"`
	MediaID   string  `json:"media_id"`
	Status    string  `json:"status"`
	Images    []Image `json:"images"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message,omitempty"`
}

// NewEvent builds an image_update event stamped with the current time.
func NewEvent(mediaID, status string, images []Image, message string) Event {
	if images == nil {
		images = []Image{}
	}
	return Event{
		Type:      TypeImageUpdate,
		MediaID:   mediaID,
		Status:    status,
		Images:    images,
		Timestamp: Timestamp(time.Now()),
		Message:   message,
	}
}

// Timestamp converts a time to the wire format (unix seconds, fractional).
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Marshal serializes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

// UnmarshalEvent parses an event off the wire.
func UnmarshalEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.MediaID == "" {
		return Event{}, fmt.Errorf("event missing media_id")
	}
	return e, nil
}
