// Package uiserver exposes the rendered view over HTTP and feeds browser
// events back into it.
package uiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/internal/metrics"
	"github.com/woxQAQ/wasm-bridge/internal/view"
)

const shutdownTimeout = 5 * time.Second

// Backend is the application state the server presents.
type Backend interface {
	Document() *view.Document
	Title() string
	// Healthy returns nil while the guest module is usable.
	Healthy() error
}

// Config contains server configuration
type Config struct {
	Listen string
	RootID string

	// Origins allowed cross-origin access. Empty disables CORS.
	AllowOrigins []string
	// Event rate limit. Zero disables it.
	EventsPerSecond int
	EventBurst      int

	// Metrics records per-route request counts when set.
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
}

// Server wraps the HTTP router and its backend.
type Server struct {
	router  *gin.Engine
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

// New creates the router and registers every route.
func New(backend Backend, cfg Config, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware())
	}
	if len(cfg.AllowOrigins) > 0 {
		router.Use(corsMiddleware(cfg.AllowOrigins))
	}
	router.SetHTMLTemplate(pageTemplate)

	s := &Server{
		router:  router,
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "ui-server")),
	}

	router.GET("/", s.Page)
	router.GET("/view", s.Fragment)
	if cfg.EventsPerSecond > 0 {
		router.POST("/events", eventLimit(cfg.EventsPerSecond, cfg.EventBurst), s.Event)
	} else {
		router.POST("/events", s.Event)
	}
	router.GET("/healthz", s.Health)

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting UI server", zap.String("listen", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down UI server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
