package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

// Error codes carried in failed envelopes.
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeRatesFetch       = "RATES_FETCH_ERROR"
	CodeHistoryFetch     = "HISTORY_FETCH_ERROR"
	CodeStatusFetch      = "STATUS_FETCH_ERROR"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respondOK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, envelope{
		Success:   false,
		Error:     &errorBody{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UTC(),
	})
}

// rateView is the wire form of a current rate.
type rateView struct {
	ExchangeCode string    `json:"exchange_code"`
	CurrencyPair string    `json:"currency_pair"`
	BuyPrice     string    `json:"buy_price"`
	SellPrice    string    `json:"sell_price"`
	AvgPrice     string    `json:"avg_price"`
	Variation24h string    `json:"variation_24h"`
	Volume24h    *string   `json:"volume_24h"`
	Source       string    `json:"source"`
	MarketStatus string    `json:"market_status"`
	LastUpdate   time.Time `json:"last_update"`
}

// historyView is the wire form of a history entry.
type historyView struct {
	ID           int64     `json:"id"`
	ExchangeCode string    `json:"exchange_code"`
	CurrencyPair string    `json:"currency_pair"`
	BuyPrice     string    `json:"buy_price"`
	SellPrice    string    `json:"sell_price"`
	AvgPrice     string    `json:"avg_price"`
	Volume24h    *string   `json:"volume_24h"`
	Source       string    `json:"source"`
	APIMethod    string    `json:"api_method"`
	TradeType    string    `json:"trade_type"`
	Timestamp    time.Time `json:"timestamp"`
}

func viewRates(rows []rates.CurrentRate) []rateView {
	out := make([]rateView, 0, len(rows))
	for _, r := range rows {
		out = append(out, rateView{
			ExchangeCode: r.ExchangeCode,
			CurrencyPair: r.CurrencyPair,
			BuyPrice:     r.BuyPrice.String(),
			SellPrice:    r.SellPrice.String(),
			AvgPrice:     r.AvgPrice.StringFixed(rates.AvgPlaces),
			Variation24h: r.Variation24h.StringFixed(rates.AvgPlaces),
			Volume24h:    optional(r.Volume24h),
			Source:       r.Source,
			MarketStatus: string(r.MarketStatus),
			LastUpdate:   r.LastUpdate,
		})
	}
	return out
}

func viewHistory(entries []rates.HistoryEntry) []historyView {
	out := make([]historyView, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyView{
			ID:           h.ID,
			ExchangeCode: h.ExchangeCode,
			CurrencyPair: h.CurrencyPair,
			BuyPrice:     h.BuyPrice.String(),
			SellPrice:    h.SellPrice.String(),
			AvgPrice:     h.AvgPrice.StringFixed(rates.AvgPlaces),
			Volume24h:    optional(h.Volume24h),
			Source:       h.Source,
			APIMethod:    string(h.APIMethod),
			TradeType:    string(h.TradeType),
			Timestamp:    h.Timestamp,
		})
	}
	return out
}

func optional(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
