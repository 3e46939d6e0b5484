package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vesrates/internal/rates"
	"vesrates/internal/service"
	"vesrates/internal/storage"
)

const maxHistoryLimit = 1000

type handlers struct {
	svc     RateService
	db      Pinger
	version string
}

func registerRateRoutes(rg *gin.RouterGroup, h *handlers) {
	rg.GET("/exchanges", h.listExchanges)
	rg.GET("/system/pool", h.poolStats)

	r := rg.Group("/rates")
	{
		r.GET("", h.currentRates)
		r.GET("/bcv", h.exchangeRates(rates.ExchangeBCV))
		r.GET("/binance", h.exchangeRates(rates.ExchangeBinanceP2P))
		r.GET("/italcambios", h.exchangeRates(rates.ExchangeItalcambios))
		r.GET("/history", h.history)
		r.GET("/status", h.status)
		r.POST("/refresh", h.refresh)
	}
}

func (h *handlers) currentRates(c *gin.Context) {
	includeInactive, err := optionalBool(c, "include_inactive")
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParameter, err.Error(), nil)
		return
	}
	h.serveRates(c, storage.CurrentFilter{
		ExchangeCode:    c.Query("exchange_code"),
		CurrencyPair:    c.Query("currency_pair"),
		IncludeInactive: includeInactive,
	})
}

func (h *handlers) exchangeRates(code string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serveRates(c, storage.CurrentFilter{ExchangeCode: code, CurrencyPair: c.Query("currency_pair")})
	}
}

func (h *handlers) serveRates(c *gin.Context, filter storage.CurrentFilter) {
	rows, err := h.svc.CurrentRates(c.Request.Context(), filter)
	if err != nil {
		logger := loggerFrom(c)
		logger.Error().Err(err).Msg("current rates unavailable")
		respondError(c, http.StatusInternalServerError, CodeRatesFetch, "could not load current rates", gin.H{"kind": rates.KindOf(err)})
		return
	}
	respondOK(c, viewRates(rows), fmt.Sprintf("%d rates found", len(rows)))
}

func (h *handlers) history(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(c, http.StatusBadRequest, CodeInvalidParameter,
				fmt.Sprintf("limit must be an integer between 1 and %d", maxHistoryLimit), gin.H{"limit": raw})
			return
		}
		limit = n
	}

	entries, err := h.svc.LatestHistory(c.Request.Context(), limit)
	if err != nil {
		logger := loggerFrom(c)
		logger.Error().Err(err).Msg("history unavailable")
		respondError(c, http.StatusInternalServerError, CodeHistoryFetch, "could not load rate history", gin.H{"kind": rates.KindOf(err)})
		return
	}
	respondOK(c, viewHistory(entries), fmt.Sprintf("%d history entries", len(entries)))
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context())
	if err != nil {
		logger := loggerFrom(c)
		logger.Error().Err(err).Msg("status unavailable")
		respondError(c, http.StatusInternalServerError, CodeStatusFetch, "could not determine source status", nil)
		return
	}
	respondOK(c, st, "source status")
}

func (h *handlers) refresh(c *gin.Context) {
	report := h.svc.RefreshAll(c.Request.Context())
	msg := "all exchanges refreshed"
	if !report.Healthy() {
		msg = fmt.Sprintf("%d of %d exchanges failed", report.Failed, report.Failed+report.Succeeded)
		logger := loggerFrom(c)
		logger.Warn().Strs("failed", failedCodes(report)).Msg("refresh degraded")
	}
	respondOK(c, report, msg)
}

func (h *handlers) listExchanges(c *gin.Context) {
	respondOK(c, h.svc.Exchanges(), "registered exchanges")
}

func (h *handlers) poolStats(c *gin.Context) {
	respondOK(c, h.svc.PoolStats(), "connection pool statistics")
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "healthy", "version": h.version, "database": "unknown"}
	status := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			logger := loggerFrom(c)
			logger.Warn().Err(err).Msg("database unreachable")
			body["status"] = "unhealthy"
			body["database"] = "error"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(status, body)
}

func optionalBool(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return v, nil
}

func failedCodes(report service.Report) []string {
	out := make([]string, 0, report.Failed)
	for _, f := range report.Failures() {
		out = append(out, f.Exchange)
	}
	return out
}
