package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/alliance-chat/internal/api/handler"
)

// Options configures the router beyond the handler dependencies.
type Options struct {
	Validator      TokenValidator
	AllowedOrigins []string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	h := handler.NewHandler(deps)

	r.GET("/health", h.Health)

	authed := r.Group("", AuthMiddleware(opts.Validator))

	v1 := authed.Group("/api/v1")
	{
		rooms := v1.Group("/rooms/:room_code", h.RequireMember)
		{
			// POST /api/v1/rooms/:room_code/messages - Post a message
			rooms.POST("/messages", h.SendMessage)

			// GET /api/v1/rooms/:room_code/messages - Message history
			rooms.GET("/messages", h.ListMessages)

			// DELETE /api/v1/rooms/:room_code/messages/:message_id - Delete own message
			rooms.DELETE("/messages/:message_id", h.DeleteMessage)

			// POST /api/v1/rooms/:room_code/messages/:message_id/translations - Request a translation
			rooms.POST("/messages/:message_id/translations", h.RequestTranslation)

			// POST /api/v1/rooms/:room_code/typing - Typing indicator
			rooms.POST("/typing", h.SetTyping)
		}

		// GET /api/v1/translations/:job_id - Poll a translation job
		v1.GET("/translations/:job_id", h.GetTranslation)

		// GET /api/v1/queue/status - Dispatch queue counters
		v1.GET("/queue/status", h.QueueStatus)
	}

	streams := authed.Group("/ws")
	{
		streams.GET("/rooms/:room_code", h.RequireMember, h.RoomStream)
		streams.GET("/translations", h.TranslationStream)
	}

	return r
}
