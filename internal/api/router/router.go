package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mosaicapp/media-pipeline/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes.
// The websocket handler is mounted outside the authenticated group
// since sessions carry their own credential exchange.
func SetupRouter(deps *handler.Dependencies, authMiddleware, wsHandler gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "media-api-service",
		})
	})

	mediaHandler := handler.NewMediaHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware)
	{
		media := v1.Group("/media/:media_id")
		{
			// POST /api/v1/media/:media_id/images - Enqueue an upload job
			media.POST("/images", mediaHandler.UploadImages)

			// GET /api/v1/media/:media_id/images - List persisted images
			media.GET("/images", mediaHandler.ListImages)

			// DELETE /api/v1/media/:media_id/images - Enqueue a delete job
			media.DELETE("/images", mediaHandler.DeleteImages)
		}
	}

	// GET /ws/media/:media_id - Real-time status session
	r.GET("/ws/media/:media_id", wsHandler)

	return r
}
