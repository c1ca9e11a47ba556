package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
	"github.com/triage-intake-server/internal/middleware"
	"github.com/triage-intake-server/internal/service"
)

// HealthChecker reports the health of an infrastructure dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	log      *logrus.Logger
	sessions *service.SessionService
	router   *gin.Engine
	server   *http.Server

	dbHealth    HealthChecker
	cacheHealth HealthChecker
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, sessions *service.SessionService, dbHealth, cacheHealth HealthChecker, logger *logrus.Logger) *Server {
	// Set Gin mode based on environment
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())

	server := &Server{
		config:      config,
		log:         logger,
		sessions:    sessions,
		router:      router,
		dbHealth:    dbHealth,
		cacheHealth: cacheHealth,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the underlying gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// Patient-facing session routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/sessions", s.handleCreateSession)
		v1.POST("/sessions/:id/messages", s.handlePostMessage)
		v1.GET("/sessions/:id", s.handleGetSession)
	}

	// Clinician-facing routes behind the admin API key
	admin := s.router.Group("/api/v1", middleware.AdminAuth(s.config.Admin.APIKey))
	{
		admin.GET("/submissions/:id", s.handleGetSubmission)
		admin.GET("/submissions/:id/handoff", s.handleGetHandoff)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if s.dbHealth != nil {
		if err := s.dbHealth.Health(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "healthy"
		}
	}
	if s.cacheHealth != nil {
		// The cache is optional; report it without failing the check.
		if err := s.cacheHealth.Health(c.Request.Context()); err != nil {
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}
	}

	c.JSON(status, gin.H{
		"status":    healthLabel(status),
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

func healthLabel(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "unhealthy"
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
