package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"vesrates/internal/metrics"
)

const (
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"
)

// requestLogger injects a request-scoped logger and logs completion.
func requestLogger(base zerolog.Logger, logRequests bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		logger := base.With().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Header(requestIDHeader, requestID)
		c.Set(loggerKey, logger)

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case logRequests:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event.Int("status", status).Dur("latency", time.Since(start)).Msg("request completed")
	}
}

// loggerFrom returns the request-scoped logger.
func loggerFrom(c *gin.Context) zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if logger, ok := v.(zerolog.Logger); ok {
			return logger
		}
	}
	return zerolog.Nop()
}

// newLimiter builds a per-IP limiter allowing perMinute requests.
func newLimiter(perMinute int64) *limiter.Limiter {
	return limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: perMinute})
}

// rateLimit rejects clients above their budget with 429.
func rateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		lctx, err := l.Get(c.Request.Context(), ip)
		if err != nil {
			logger := loggerFrom(c)
			logger.Error().Err(err).Str("ip", ip).Msg("rate limit check failed")
			respondError(c, http.StatusInternalServerError, CodeInternal, "rate limit check failed", nil)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			logger := loggerFrom(c)
			logger.Warn().Str("ip", ip).Int64("limit", lctx.Limit).Msg("rate limit exceeded")
			respondError(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later", nil)
			return
		}
		c.Next()
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// instrument records request counts and latency by route template.
func instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
