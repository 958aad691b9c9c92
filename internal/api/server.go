// Package api implements the inbound HTTP surface: the gin server, the
// four dialect endpoints and the model listings, the shared API-key
// middleware, the request dispatcher, and the management API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	log "github.com/sirupsen/logrus"
)

// Server is the inbound HTTP server.
type Server struct {
	engine     *gin.Engine
	server     *http.Server
	cfg        *config.Config
	dispatcher *Dispatcher
	mgmt       *Management
}

// NewServer builds the gin engine, routes, and middleware around a
// dispatcher and management handler.
func NewServer(cfg *config.Config, dispatcher *Dispatcher, mgmt *Management) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		dispatcher: dispatcher,
		mgmt:       mgmt,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.cfg))
	{
		v1.GET("/models", s.dispatcher.HandleOpenAIModels)
		v1.POST("/chat/completions", s.dispatcher.HandleGenerate(constant.EndpointOpenAIChat))
		v1.POST("/responses", s.dispatcher.HandleGenerate(constant.EndpointOpenAIResponses))
		v1.POST("/messages", s.dispatcher.HandleGenerate(constant.EndpointClaudeMessage))
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(AuthMiddleware(s.cfg))
	{
		v1beta.GET("/models", s.dispatcher.HandleGeminiModels)
		// Gemini encodes "<model>:<action>" in one path segment.
		v1beta.POST("/models/*modelAction", s.geminiGenerateHandler())
	}

	management := s.engine.Group("/v0/management")
	management.Use(AuthMiddleware(s.cfg))
	s.mgmt.RegisterRoutes(management)
}

// geminiGenerateHandler splits the "/{model}:{action}" tail and injects
// the parts as path params before dispatching.
func (s *Server) geminiGenerateHandler() gin.HandlerFunc {
	generate := s.dispatcher.HandleGenerate(constant.EndpointGeminiContent)
	return func(c *gin.Context) {
		model, action := splitModelAction(c.Param("modelAction"))
		if action != "generateContent" && action != "streamGenerateContent" {
			writeDialectError(c, constant.Gemini, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
			return
		}
		c.Params = append(c.Params,
			gin.Param{Key: "model", Value: model},
			gin.Param{Key: "action", Value: action},
		)
		generate(c)
	}
}

// splitModelAction parses the "/{model}:{action}" wildcard tail.
func splitModelAction(tail string) (string, string) {
	tail = strings.TrimPrefix(tail, "/")
	if i := strings.LastIndex(tail, ":"); i >= 0 {
		return tail[:i], tail[i+1:]
	}
	return tail, ""
}

// AuthMiddleware validates the inbound API key. Any of the Bearer
// header, ?key= query, x-goog-api-key or x-api-key header may carry it.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.RequiredAPIKey == "" {
			c.Next()
			return
		}
		if presentedKey(c) == cfg.RequiredAPIKey {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "invalid api key", "type": "authentication_error"},
		})
	}
}

func presentedKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := c.Query("key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key
	}
	return c.GetHeader("x-api-key")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, x-api-key, x-goog-api-key, anthropic-version")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		log.Infof("api: listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
