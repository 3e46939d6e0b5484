package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vesrates/internal/alerting"
	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
)

// Exchange refresh outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PairOutcome is what happened to one normalized quotation.
type PairOutcome struct {
	CurrencyPair   string           `json:"currency_pair"`
	BuyPrice       decimal.Decimal  `json:"buy_price"`
	SellPrice      decimal.Decimal  `json:"sell_price"`
	AvgPrice       decimal.Decimal  `json:"avg_price"`
	Variation24h   decimal.Decimal  `json:"variation_24h"`
	Volume24h      *decimal.Decimal `json:"volume_24h,omitempty"`
	Source         string           `json:"source"`
	Changed        bool             `json:"changed"`
	HistoryWritten bool             `json:"history_written"`
	CurrentWritten bool             `json:"current_written"`
	Error          string           `json:"error,omitempty"`
}

// ExchangeReport is the outcome of one exchange in a refresh cycle.
type ExchangeReport struct {
	Status     string                  `json:"status"`
	Error      string                  `json:"error,omitempty"`
	ErrorKind  rates.ErrorKind         `json:"error_kind,omitempty"`
	Shape      string                  `json:"shape,omitempty"`
	Data       []PairOutcome           `json:"data,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
	Market     *fetcher.MarketAnalysis `json:"market,omitempty"`
	DurationMS int64                   `json:"duration_ms"`
}

// Report summarises a refresh cycle across every exchange.
type Report struct {
	Timestamp  time.Time                 `json:"timestamp"`
	DurationMS int64                     `json:"duration_ms"`
	Exchanges  map[string]ExchangeReport `json:"exchanges"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
}

// Healthy reports whether every exchange refreshed.
func (r Report) Healthy() bool {
	return r.Failed == 0
}

// Codes returns the exchange codes of the report in order.
func (r Report) Codes() []string {
	codes := make([]string, 0, len(r.Exchanges))
	for code := range r.Exchanges {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Failures lists the exchanges that did not refresh.
func (r Report) Failures() []alerting.Failure {
	var out []alerting.Failure
	for _, code := range r.Codes() {
		ex := r.Exchanges[code]
		if ex.Status != StatusError {
			continue
		}
		out = append(out, alerting.Failure{Exchange: code, ErrorKind: string(ex.ErrorKind), Message: ex.Error})
	}
	return out
}

// HistoryWrites counts history rows appended in the cycle.
func (r Report) HistoryWrites() int {
	n := 0
	for _, ex := range r.Exchanges {
		for _, p := range ex.Data {
			if p.HistoryWritten {
				n++
			}
		}
	}
	return n
}

func (r *Report) add(code string, ex ExchangeReport) {
	r.Exchanges[code] = ex
	if ex.Status == StatusError {
		r.Failed++
	} else {
		r.Succeeded++
	}
}

// CleanupResult reports rows removed by retention.
type CleanupResult struct {
	RateHistoryDeleted int64 `json:"rate_history_deleted"`
	APILogsDeleted     int64 `json:"api_logs_deleted"`
}

// SourceStatus is the serving state of one exchange.
type SourceStatus struct {
	Status     string           `json:"status"`
	LastUpdate *time.Time       `json:"last_update"`
	Rate       *decimal.Decimal `json:"rate"`
}

// StatusReport is the serving state of every active exchange.
type StatusReport struct {
	Sources       map[string]SourceStatus `json:"sources"`
	OverallStatus string                  `json:"overall_status"`
}
