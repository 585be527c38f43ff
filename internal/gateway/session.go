package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mosaicapp/media-pipeline/internal/job"
	"github.com/mosaicapp/media-pipeline/internal/notify"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// wsConn is the slice of *websocket.Conn the session uses. WriteControl
// is safe to call concurrently with WriteMessage, which lets teardown
// send a close frame without coordinating with the write pump.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const writeTimeout = 10 * time.Second

// Session is one client connection watching a single media record.
// The read loop is the only goroutine that mutates state; the write
// pump is the only goroutine that touches the connection for writes.
type Session struct {
	id      string
	mediaID string
	userID  string

	gw   *Gateway
	conn wsConn
	log  *slog.Logger

	mu    sync.Mutex
	state State

	sub      *notify.Subscriber
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once
	authTimer *time.Timer
}

func newSession(g *Gateway, conn wsConn, mediaID string) *Session {
	id := "session-" + uuid.New().String()[:8]
	return &Session{
		id:      id,
		mediaID: mediaID,
		gw:      g,
		conn:    conn,
		log: g.logger.With(
			slog.String("session_id", id),
			slog.String("media_id", mediaID)),
		state:    StateConnecting,
		outbound: make(chan []byte, g.sendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("session state changed",
			slog.String("from", prev.String()),
			slog.String("to", st.String()))
	}
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run drives the session until the connection drops or auth fails. A
// query token is handled before the first read; otherwise the client
// has authTimeout to send an authenticate message.
func (s *Session) run(queryToken string) {
	defer s.teardown()

	go s.writePump()
	s.setState(StateAuthenticating)

	if queryToken != "" {
		if !s.authenticate(queryToken) {
			return
		}
	} else {
		s.authTimer = time.AfterFunc(s.gw.authTimeout, func() {
			s.log.Info("authentication timed out")
			s.closeWith(CloseAuthTimeout, "authentication timeout")
		})
	}

	s.readLoop()
}

func (s *Session) readLoop() {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.gw.livenessWindow)); err != nil {
			return
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("connection closed",
					slog.String("error", err.Error()))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg inboundMessage) {
	handler, ok := s.gw.handlers[msg.Type]
	if !ok {
		s.log.Warn("unknown message type",
			slog.String("type", msg.Type))
		s.sendError("unknown message type: " + msg.Type)
		return
	}
	if s.currentState() != StateActive && msg.Type != TypeAuthenticate && msg.Type != TypePing {
		s.sendError("not authenticated")
		return
	}
	handler(s, msg)
}

// authenticate verifies the credential and the caller's ownership of
// the media record. A record that does not exist yet is allowed through
// since uploads create it asynchronously.
func (s *Session) authenticate(token string) bool {
	userID, err := s.gw.verifier.Verify(token)
	if err != nil {
		s.log.Info("invalid credential",
			slog.String("error", err.Error()))
		s.closeWith(CloseInvalidToken, "invalid token")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner, err := s.gw.store.GetMediaOwner(ctx, s.mediaID)
	switch {
	case errors.Is(err, job.ErrMediaNotFound):
		// fallthrough to activation
	case err != nil:
		s.log.Error("ownership lookup failed",
			slog.String("error", err.Error()))
		s.closeWith(websocket.CloseInternalServerErr, "internal error")
		return false
	case owner != userID:
		s.log.Info("not media owner",
			slog.String("user_id", userID))
		s.closeWith(CloseNotAuthorized, "not authorized for this media")
		return false
	}

	s.userID = userID
	s.activate()
	return true
}

// activate joins the fan-out group and confirms the session to the
// client. Events published from here on are delivered in order.
func (s *Session) activate() {
	if s.authTimer != nil {
		s.authTimer.Stop()
	}

	sub := s.gw.hub.Subscribe(s.mediaID)
	if sub == nil {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.sub = sub
	go s.relayEvents(sub)

	s.setState(StateActive)
	s.sendJSON(establishedMessage{
		Type:    TypeConnectionEstablished,
		MediaID: s.mediaID,
		Message: "subscribed to media updates",
	})
	s.log.Info("session established",
		slog.String("user_id", s.userID))
}

// relayEvents moves hub events onto the outbound queue. It ends when
// the hub closes the subscriber channel during teardown.
func (s *Session) relayEvents(sub *notify.Subscriber) {
	for ev := range sub.Events() {
		data, err := ev.Marshal()
		if err != nil {
			s.log.Error("event marshal failed",
				slog.String("error", err.Error()))
			continue
		}
		s.send(data)
	}
}

func (s *Session) handleAuthenticate(msg inboundMessage) {
	if s.currentState() == StateActive {
		s.sendJSON(establishedMessage{
			Type:    TypeConnectionEstablished,
			MediaID: s.mediaID,
			Message: "already authenticated",
		})
		return
	}
	if msg.Token == "" {
		s.sendError("authenticate requires a token")
		return
	}
	s.authenticate(msg.Token)
}

func (s *Session) handlePing(msg inboundMessage) {
	s.sendJSON(pongMessage{Type: TypePong, Timestamp: msg.Timestamp})
}

// handleRequestStatus replies with a status_update built from the
// persisted state, letting a reconnecting client resynchronize without
// waiting for the next live event.
func (s *Session) handleRequestStatus(inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := s.gw.store.ListImages(ctx, s.mediaID)
	if err != nil {
		s.log.Error("status lookup failed",
			slog.String("error", err.Error()))
		s.sendError("status unavailable")
		return
	}

	images := make([]notify.Image, 0, len(records))
	for _, r := range records {
		images = append(images, notify.Image{
			ID:       r.ID,
			URL:      r.URL,
			Position: r.Position,
		})
	}

	status := job.StatusProcessing
	if len(images) > 0 {
		status = job.StatusCompleted
	}

	ev := notify.Event{
		Type:      notify.TypeStatusUpdate,
		MediaID:   s.mediaID,
		Status:    status,
		Images:    images,
		Timestamp: notify.Timestamp(time.Now()),
	}
	data, err := ev.Marshal()
	if err != nil {
		s.log.Error("status marshal failed",
			slog.String("error", err.Error()))
		return
	}
	s.send(data)
}

// send queues a frame without ever blocking the read loop. A full
// queue drops the frame; clients recover via request_status.
func (s *Session) send(data []byte) {
	select {
	case s.outbound <- data:
	case <-s.done:
	default:
		s.log.Warn("outbound queue full, dropping frame")
	}
}

func (s *Session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal failed",
			slog.String("error", err.Error()))
		return
	}
	s.send(data)
}

func (s *Session) sendError(message string) {
	s.sendJSON(errorMessage{Type: TypeError, Message: message})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.gw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			ping, _ := json.Marshal(pingMessage{
				Type:      TypePing,
				Timestamp: notify.Timestamp(time.Now()),
			})
			if err := s.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// closeWith sends a close frame with an application code and tears the
// session down.
func (s *Session) closeWith(code int, reason string) {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeTimeout))
	s.teardown()
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		if s.sub != nil {
			s.gw.hub.Unsubscribe(s.sub)
		}
		close(s.done)
		s.conn.Close()
		s.setState(StateClosed)
		s.log.Debug("session closed")
	})
}
