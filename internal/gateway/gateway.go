package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mosaicapp/media-pipeline/internal/notify"
	"github.com/mosaicapp/media-pipeline/internal/storage"
)

// TokenVerifier checks a credential and returns the user it belongs to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// MediaStore provides the persisted media state the gateway needs for
// ownership checks and status snapshots.
type MediaStore interface {
	GetMediaOwner(ctx context.Context, mediaID string) (string, error)
	ListImages(ctx context.Context, mediaID string) ([]storage.ImageRecord, error)
}

// Config holds the gateway dependencies and timing knobs.
type Config struct {
	Logger   *slog.Logger
	Verifier TokenVerifier
	Store    MediaStore
	Hub      *notify.Hub

	// AuthTimeout bounds how long a connection may sit unauthenticated.
	AuthTimeout time.Duration
	// LivenessWindow is the read deadline refreshed on every inbound
	// message; a silent client past it is considered gone.
	LivenessWindow time.Duration
	// PingInterval is how often the server sends its own ping frame.
	PingInterval time.Duration
	// SendBuffer is the per-connection outbound queue size.
	SendBuffer int
}

// Gateway upgrades HTTP requests into media status sessions and routes
// their inbound messages.
type Gateway struct {
	logger   *slog.Logger
	verifier TokenVerifier
	store    MediaStore
	hub      *notify.Hub

	authTimeout    time.Duration
	livenessWindow time.Duration
	pingInterval   time.Duration
	sendBuffer     int

	upgrader websocket.Upgrader
	handlers map[string]func(*Session, inboundMessage)
}

func NewGateway(cfg *Config) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 30 * time.Second
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = 90 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = notify.DefaultBufferSize
	}

	g := &Gateway{
		logger:         cfg.Logger.With(slog.String("component", "gateway")),
		verifier:       cfg.Verifier,
		store:          cfg.Store,
		hub:            cfg.Hub,
		authTimeout:    cfg.AuthTimeout,
		livenessWindow: cfg.LivenessWindow,
		pingInterval:   cfg.PingInterval,
		sendBuffer:     cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	g.handlers = map[string]func(*Session, inboundMessage){
		TypeAuthenticate:  (*Session).handleAuthenticate,
		TypePing:          (*Session).handlePing,
		TypeRequestStatus: (*Session).handleRequestStatus,
	}
	return g
}

// Handler returns the gin handler for GET /ws/media/:media_id. The
// credential may arrive as a ?token= query parameter or as the first
// authenticate message after the handshake.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaID := c.Param("media_id")
		token := c.Query("token")

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed",
				slog.String("media_id", mediaID),
				slog.String("error", err.Error()))
			return
		}

		s := newSession(g, conn, mediaID)
		go s.run(token)
	}
}
