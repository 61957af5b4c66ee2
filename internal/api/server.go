// Package api provides the HTTP server of the serve mode. It exposes the import
// chain so synthesized functions can be inspected and called over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/copilot-import/copilot-import/internal/api/handlers"
	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/logging"
	"github.com/copilot-import/copilot-import/internal/metrics"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware []gin.HandlerFunc
	dialect         string
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithDialect reports the interpreter dialect on /healthz.
func WithDialect(dialect string) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.dialect = dialect
	}
}

// Server represents the serve mode API server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	modules *handlers.ModuleHandler
	cfg     *config.Config
	dialect string
}

// NewServer builds the engine and routes. Modules are imported through chain
// beneath cfg's namespace.
func NewServer(cfg *config.Config, chain *importer.Chain, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.RequestLogger())
	engine.Use(logging.Recovery())
	engine.Use(metrics.GinMetrics())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s := &Server{
		engine:  engine,
		modules: handlers.NewModuleHandler(chain, cfg.Sandbox.GetNamespace()),
		cfg:     cfg,
		dialect: optionState.dialect,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: engine,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipRequestLog(c)
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"dialect":   s.dialect,
			"namespace": s.cfg.Sandbox.GetNamespace(),
		})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.cfg.Server.APIKey))
	{
		v1.GET("/modules", s.modules.ListModules)
		v1.GET("/modules/:name", s.modules.GetModule)
		v1.POST("/modules/:name/call", s.modules.CallModule)
		v1.DELETE("/modules/:name", s.modules.ForgetModule)
		v1.GET("/logs", handlers.RecentLogs)
	}
}

// Start serves until Stop is called. It's a blocking call.
func (s *Server) Start() error {
	log.Debugf("Starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// AuthMiddleware requires "Authorization: Bearer <apiKey>" when apiKey is set.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		provided, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "missing or invalid API key"}})
			return
		}
		c.Next()
	}
}
