package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vesrates/internal/config"
	"vesrates/internal/metrics"
	"vesrates/internal/rates"
	"vesrates/internal/service"
	"vesrates/internal/storage"
)

// RateService is the slice of the service the API serves.
type RateService interface {
	CurrentRates(ctx context.Context, filter storage.CurrentFilter) ([]rates.CurrentRate, error)
	LatestHistory(ctx context.Context, limit int) ([]rates.HistoryEntry, error)
	RefreshAll(ctx context.Context) service.Report
	Status(ctx context.Context) (service.StatusReport, error)
	Exchanges() []rates.ExchangeConfig
	PoolStats() storage.PoolStats
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the rate service over HTTP.
type Server struct {
	cfg     config.HTTPConfig
	engine  *gin.Engine
	logger  zerolog.Logger
	version string
}

// NewServer builds the router. db and m may be nil.
func NewServer(cfg config.HTTPConfig, svc RateService, db Pinger, m *metrics.Metrics, version string, logger zerolog.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger = logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(requestLogger(logger, cfg.LogRequests), gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(cfg.CORSOrigins))
	}
	if m != nil {
		r.Use(instrument(m))
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	h := &handlers{svc: svc, db: db, version: version}
	r.GET("/health", h.health)
	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, CodeNotFound, "route not found", nil)
	})

	v1 := r.Group("/api/v1")
	if cfg.RequestsPerMinute > 0 {
		v1.Use(rateLimit(newLimiter(cfg.RequestsPerMinute)))
	}
	registerRateRoutes(v1, h)

	return &Server{cfg: cfg, engine: r, logger: logger, version: version}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
