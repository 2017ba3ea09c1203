// Package api exposes the relay over HTTP: websocket endpoints for rooms,
// private conversations and notifications, and JSON routes for uploads,
// attachments and history.
package api

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/ws"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Dependencies are the components the routes call into.
type Dependencies struct {
	Resolver      *auth.Resolver
	Chat          services.IChatService
	Private       *services.PrivateService
	Uploads       *services.UploadService
	Attachments   *services.AttachmentService
	Groups        *runtime.Registry
	Notifications *runtime.NotificationHub
	Metrics       *observability.Metrics
}

type Config struct {
	SessionCookie  string
	AllowedOrigins []string
	MaxChunkSize   int
	Socket         ws.Config
}

type Server struct {
	deps     Dependencies
	cfg      Config
	upgrader *websocket.Upgrader
	log      *slog.Logger
	// base bounds every websocket; cancelling it disconnects all clients.
	base context.Context
}

func NewServer(base context.Context, log *slog.Logger, deps Dependencies, cfg Config) *Server {
	return &Server{
		deps:     deps,
		cfg:      cfg,
		upgrader: ws.NewOriginPolicy(cfg.AllowedOrigins, log).Upgrader(),
		log:      log,
		base:     base,
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(s.log), auth.Middleware(s.deps.Resolver, s.cfg.SessionCookie))
	router.MaxMultipartMemory = int64(s.cfg.MaxChunkSize) + 64*1024

	router.GET("/health", s.health)
	router.GET("/api/attachments/:id", s.attachment)

	sockets := router.Group("/ws", auth.RequireIdentity())
	sockets.GET("/rooms/:room", s.roomSocket)
	sockets.GET("/private/:conversation", s.privateSocket)
	sockets.GET("/notifications", s.notificationSocket)

	api := router.Group("/api", auth.RequireIdentity())
	api.POST("/uploads/chunk", s.uploadChunk)
	api.POST("/uploads/finalize", s.finalizeUpload)
	api.GET("/uploads/:id", s.uploadStatus)
	api.GET("/unread", s.unread)
	api.GET("/rooms/:room/messages", s.roomHistory)
	api.GET("/private/:conversation/messages", s.privateHistory)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
	})
	return router
}
