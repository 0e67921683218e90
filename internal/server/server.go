// Package server exposes the chat application over HTTP for the browser
// UI. It is a thin layer: all conversation logic lives in the session
// controller and the storage backends.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/auth"
	"github.com/xaenox/agent0/internal/session"
	"github.com/xaenox/agent0/internal/storage"
)

type Server struct {
	store    storage.ChatStore
	sessions *session.Manager
	auth     *auth.Client
	tokens   auth.TokenSource
	logger   *zap.Logger
	engine   *gin.Engine
}

// New builds the router. A nil tokens source means agent calls are made
// with the bearer forwarded by the browser; passing one (service mode)
// makes the identity client acquire credentials itself instead.
func New(store storage.ChatStore, sessions *session.Manager, authClient *auth.Client, tokens auth.TokenSource, logger *zap.Logger) *Server {
	s := &Server{
		store:    store,
		sessions: sessions,
		auth:     authClient,
		tokens:   tokens,
		logger:   logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/api/login", s.login)

	api := s.engine.Group("/api", RequireUser())
	{
		api.GET("/chats", s.listChats)
		api.POST("/chats", s.createChat)
		api.GET("/chats/:id", s.getChat)
		api.PUT("/chats/:id", s.renameChat)
		api.DELETE("/chats/:id", s.deleteChat)
		api.GET("/chats/:id/messages", s.getMessages)
		api.POST("/chats/:id/messages", s.sendMessage)
		api.POST("/messages", s.sendFirstMessage)
		api.GET("/identities/:connection/link", s.linkIdentity)
		api.DELETE("/identities/:connection", s.unlinkIdentity)
	}
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// NewConfigErrorRouter serves a configuration-error response on every route
// when the identity provider settings are missing, instead of the chat API.
func NewConfigErrorRouter(err error) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Configuration Error",
			"detail": err.Error(),
		})
	})
	return engine
}
