package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	before := Timestamp(time.Now())
	ev := NewEvent("media-a", "completed", nil, "done")
	after := Timestamp(time.Now())

	assert.Equal(t, TypeImageUpdate, ev.Type)
	assert.Equal(t, "media-a", ev.MediaID)
	assert.Equal(t, "completed", ev.Status)
	assert.NotNil(t, ev.Images, "images must serialize as [] rather than null")
	assert.GreaterOrEqual(t, ev.Timestamp, before)
	assert.LessOrEqual(t, ev.Timestamp, after)
}

func TestEvent_MarshalImagesNeverNull(t *testing.T) {
	body, err := NewEvent("media-a", "completed", nil, "").Marshal()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.JSONEq(t, "[]", string(raw["images"]))
}

func TestUnmarshalEvent(t *testing.T) {
	src := NewEvent("media-a", "completed", []Image{{ID: 7, URL: "https://store.local/x.jpg", Position: 0}}, "")
	body, err := src.Marshal()
	require.NoError(t, err)

	ev, err := UnmarshalEvent(body)
	require.NoError(t, err)
	assert.Equal(t, src.MediaID, ev.MediaID)
	assert.Equal(t, src.Timestamp, ev.Timestamp)
	require.Len(t, ev.Images, 1)
	assert.Equal(t, int64(7), ev.Images[0].ID)
}

func TestUnmarshalEvent_Invalid(t *testing.T) {
	_, err := UnmarshalEvent([]byte("not json"))
	assert.Error(t, err)

	_, err = UnmarshalEvent([]byte(`{"type":"image_update"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media_id")
}
