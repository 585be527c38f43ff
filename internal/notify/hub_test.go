package notify

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_PublishReachesOnlyMatchingGroup(t *testing.T) {
	hub := NewHub(testLogger(), 4)
	defer hub.Close()

	subA := hub.Subscribe("media-a")
	subB := hub.Subscribe("media-b")
	require.NotNil(t, subA)
	require.NotNil(t, subB)

	hub.Publish(NewEvent("media-a", "completed", nil, ""))

	ev := <-subA.Events()
	assert.Equal(t, "media-a", ev.MediaID)
	assert.Equal(t, "completed", ev.Status)

	select {
	case stray := <-subB.Events():
		t.Fatalf("subscriber of media-b received event for %s", stray.MediaID)
	default:
	}
}

func TestHub_TwoSubscribersSameGroup(t *testing.T) {
	hub := NewHub(testLogger(), 4)
	defer hub.Close()

	sub1 := hub.Subscribe("media-a")
	sub2 := hub.Subscribe("media-a")
	assert.Equal(t, 2, hub.GroupSize("media-a"))

	ev := NewEvent("media-a", "processing", nil, "")
	hub.Publish(ev)

	got1 := <-sub1.Events()
	got2 := <-sub2.Events()
	assert.Equal(t, ev.Status, got1.Status)
	assert.Equal(t, ev.Timestamp, got1.Timestamp)
	assert.Equal(t, got1, got2)
}

func TestHub_DropOldestWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger(), 2)
	defer hub.Close()

	sub := hub.Subscribe("media-a")

	for i := 0; i < 5; i++ {
		hub.Publish(NewEvent("media-a", fmt.Sprintf("status-%d", i), nil, ""))
	}

	// Buffer of 2: oldest events were evicted, newest survive.
	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, "status-3", first.Status)
	assert.Equal(t, "status-4", second.Status)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event %q", ev.Status)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(testLogger(), 4)
	defer hub.Close()

	sub := hub.Subscribe("media-a")
	hub.Unsubscribe(sub)

	assert.Equal(t, 0, hub.GroupSize("media-a"))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing into an empty group is a no-op.
	hub.Publish(NewEvent("media-a", "completed", nil, ""))

	// Double unsubscribe is safe.
	hub.Unsubscribe(sub)
}

func TestHub_NoDeliveryToLateSubscriber(t *testing.T) {
	hub := NewHub(testLogger(), 4)
	defer hub.Close()

	hub.Publish(NewEvent("media-a", "completed", nil, ""))

	sub := hub.Subscribe("media-a")
	select {
	case ev := <-sub.Events():
		t.Fatalf("late subscriber received %q", ev.Status)
	default:
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(testLogger(), 4)

	sub := hub.Subscribe("media-a")
	hub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)

	assert.Nil(t, hub.Subscribe("media-b"))

	// Publish and double close after close are no-ops.
	hub.Publish(NewEvent("media-a", "completed", nil, ""))
	hub.Close()
}
