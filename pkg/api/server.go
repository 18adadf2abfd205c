// Package api provides the HTTP REST API for distant chats
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/distantchat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// Chats is the session manager as used by the API
type Chats interface {
	Initiate(to, from protocol.GxsID) (protocol.PeerID, error)
	Send(id protocol.PeerID, item chat.Item) error
	Close(id protocol.PeerID) error
	Status(id protocol.PeerID) (distantchat.Info, error)
	Sessions() []distantchat.Info
	Events() <-chan distantchat.Event
}

// History gives access to archived messages
type History interface {
	LoadRecords(session protocol.PeerID) ([]*chat.PrivateChatRecord, error)
}

// Server represents the HTTP API server
type Server struct {
	chats      Chats
	history    History
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute
	MaxEvents    int // Upper bound for one events poll
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// History is optional; without it the history route answers 404
	History History
	// Gatherer backs /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    100,
		MaxEvents:    1000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Gatherer:     prometheus.DefaultGatherer,
	}
}

// NewServer creates a new HTTP API server
func NewServer(chats Chats, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultConfig().MaxEvents
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		chats:   chats,
		history: config.History,
		router:  gin.New(),
		config:  config,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	s.router.Use(RequestIDMiddleware())
	s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		chats := v1.Group("/chats")
		{
			chats.POST("", s.handleInitiate)
			chats.GET("", s.handleSessions)
			chats.GET("/:id", s.handleStatus)
			chats.DELETE("/:id", s.handleClose)
			chats.POST("/:id/messages", s.handleSendMessage)
			chats.POST("/:id/typing", s.handleTyping)
			chats.GET("/:id/history", s.handleHistory)
		}

		v1.GET("/events", s.handleEvents)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
}

// Handler exposes the router, mostly for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 HTTP API server starting on port %d...", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(s.chats.Sessions()),
		"time":     time.Now().UTC(),
	})
}
