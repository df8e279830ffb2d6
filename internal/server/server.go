// Package server exposes the caller-facing chat API over HTTP. It is
// deliberately thin: auth, request decoding, and error mapping around the
// chat service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/contextchat/contextchat/internal/chat"
	"github.com/contextchat/contextchat/internal/config"
	"github.com/contextchat/contextchat/internal/database"
)

// ChatService is the part of the chat pipeline the HTTP layer needs.
type ChatService interface {
	SendMessage(ctx context.Context, userID, message string, settings chat.Settings) (string, error)
	History(ctx context.Context, userID string, limit int) ([]database.Message, error)
}

// Server wraps the HTTP server serving the chat API.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	service         ChatService
	store           database.Store
	defaults        config.ChatConfig
	shutdownTimeout time.Duration
}

// settingsPayload is the optional per-request generation configuration.
type settingsPayload struct {
	SystemInstructions *string  `json:"systemInstructions"`
	PromptPrefix       *string  `json:"promptPrefix"`
	Temperature        *float32 `json:"temperature"`
}

type sendMessageRequest struct {
	Content  string           `json:"content" binding:"required"`
	Settings *settingsPayload `json:"settings"`
}

type sendMessageResponse struct {
	Reply string `json:"reply"`
}

type messagePayload struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	IsAI      bool      `json:"isAi"`
	ContextID string    `json:"contextId"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates the HTTP server with its routes registered.
func New(cfg config.ServerConfig, chatDefaults config.ChatConfig, service ChatService, store database.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "http_server")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          log,
		service:         service,
		store:           store,
		defaults:        chatDefaults,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1", authMiddleware(cfg.JWTSecret, log))
	api.POST("/chat/messages", s.handleSendMessage)
	api.GET("/chat/messages", s.handleHistory)

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped gracefully.")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(userIDContextKey)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	settings := s.settingsFromRequest(req.Settings)

	reply, err := s.service.SendMessage(ctx, userID, req.Content, settings)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sendMessageResponse{Reply: reply})
}

func (s *Server) handleHistory(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(userIDContextKey)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	messages, err := s.service.History(ctx, userID, limit)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	payload := make([]messagePayload, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, messagePayload{
			ID:        m.ID,
			Content:   m.Content,
			IsAI:      m.IsAI,
			ContextID: m.ContextID,
			CreatedAt: m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": payload})
}

// settingsFromRequest fills unset fields from configured defaults so
// front-ends without a settings surface still get sensible behavior.
func (s *Server) settingsFromRequest(payload *settingsPayload) chat.Settings {
	settings := chat.Settings{
		SystemInstructions: s.defaults.SystemInstructions,
		PromptPrefix:       s.defaults.PromptPrefix,
		Temperature:        s.defaults.Temperature,
	}
	if payload == nil {
		return settings
	}
	if payload.SystemInstructions != nil {
		settings.SystemInstructions = *payload.SystemInstructions
	}
	if payload.PromptPrefix != nil {
		settings.PromptPrefix = *payload.PromptPrefix
	}
	if payload.Temperature != nil {
		settings.Temperature = *payload.Temperature
	}
	return settings
}

func (s *Server) writeServiceError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, chat.ErrMissingCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, chat.ErrBackendFailure):
		s.logger.ErrorContext(ctx, "Backend failure serving chat request", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "response generation failed, retry"})
	case errors.Is(err, chat.ErrStoreUnavailable):
		s.logger.ErrorContext(ctx, "Store unavailable serving chat request", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// requestLogger logs one line per request with method, path, status and
// duration.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.InfoContext(c.Request.Context(), "Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
