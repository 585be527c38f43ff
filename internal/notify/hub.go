package notify

import (
	"log/slog"
	"sync"
)

// DefaultBufferSize is the per-subscriber event buffer. When a subscriber
// falls this far behind, its oldest buffered event is dropped in favor of
// the newest (drop-oldest policy): for status delivery the latest event is
// always the most useful one, and clients reconcile via request_status.
const DefaultBufferSize = 16

// Subscriber is one connection's membership in a media group. Events
// arrive on a bounded channel drained by the connection's write loop. The
// channel is closed by Unsubscribe (or Hub.Close), never by the consumer.
type Subscriber struct {
	mediaID string
	events  chan Event
}

// Events returns the subscriber's delivery channel.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// MediaID returns the group this subscriber belongs to.
func (s *Subscriber) MediaID() string {
	return s.mediaID
}

// Hub is the group-subscription table: media_id -> set of subscribers.
// It is an explicitly constructed service object passed by reference;
// Publish, Subscribe, and Unsubscribe are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Subscriber]struct{}
	logger  *slog.Logger
	bufSize int
	closed  bool
}

// NewHub creates a hub. bufSize <= 0 selects DefaultBufferSize.
func NewHub(logger *slog.Logger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Hub{
		groups:  make(map[string]map[*Subscriber]struct{}),
		logger:  logger,
		bufSize: bufSize,
	}
}

// Subscribe joins the group for mediaID and returns the membership.
// Returns nil after the hub has been closed.
func (h *Hub) Subscribe(mediaID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	sub := &Subscriber{
		mediaID: mediaID,
		events:  make(chan Event, h.bufSize),
	}

	group, ok := h.groups[mediaID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		h.groups[mediaID] = group
	}
	group[sub] = struct{}{}

	h.logger.Debug("Subscriber joined group",
		slog.String("media_id", mediaID),
		slog.Int("group_size", len(group)),
	)

	return sub
}

// Unsubscribe leaves the group and closes the subscriber's channel. Safe
// to call once per subscriber; the write lock guarantees no publish is
// mid-send when the channel closes.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[sub.mediaID]
	if !ok {
		return
	}
	if _, member := group[sub]; !member {
		return
	}

	delete(group, sub)
	if len(group) == 0 {
		delete(h.groups, sub.mediaID)
	}
	close(sub.events)

	h.logger.Debug("Subscriber left group",
		slog.String("media_id", sub.mediaID),
		slog.Int("group_size", len(group)),
	)
}

// Publish fans the event out to every current member of its media group.
// Fire-and-forget: a full subscriber buffer drops that subscriber's
// oldest event and never blocks delivery to siblings. Membership is read
// at publish time; connections that join later do not see the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	group := h.groups[ev.MediaID]
	if len(group) == 0 {
		return
	}

	dropped := 0
	for sub := range group {
		select {
		case sub.events <- ev:
			continue
		default:
		}

		// Buffer full: evict the oldest event, then try once more. The
		// retry can still lose a race with the draining consumer, in
		// which case the event is dropped for this subscriber only.
		select {
		case <-sub.events:
		default:
		}
		select {
		case sub.events <- ev:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		h.logger.Warn("Dropped event for slow subscribers",
			slog.String("media_id", ev.MediaID),
			slog.String("status", ev.Status),
			slog.Int("dropped", dropped),
		)
	}
}

// GroupSize returns the current member count for a media group.
func (h *Hub) GroupSize(mediaID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[mediaID])
}

// Close tears down every group and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for mediaID, group := range h.groups {
		for sub := range group {
			close(sub.events)
		}
		delete(h.groups, mediaID)
	}

	h.logger.Info("Notification hub closed")
}
