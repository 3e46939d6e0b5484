package storage

import "time"

// CurrentFilter narrows GetCurrent. Empty fields match everything.
type CurrentFilter struct {
	ExchangeCode    string
	CurrencyPair    string
	IncludeInactive bool
}

// HistoryFilter selects history rows inside [From, To).
type HistoryFilter struct {
	ExchangeCode string
	CurrencyPair string
	From         time.Time
	To           time.Time
	Limit        int
}

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	Size         int32 `json:"size"`
	Min          int32 `json:"min_size"`
	Max          int32 `json:"max_size"`
	Idle         int32 `json:"idle_size"`
	Acquired     int32 `json:"acquired"`
	AcquireCount int64 `json:"acquire_count"`
}

// APILog records one outbound source call or inbound API request.
type APILog struct {
	Endpoint       string
	Method         string
	StatusCode     int
	Source         string
	OperationType  string
	IPAddress      string
	UserAgent      string
	ResponseTimeMS int64
	Success        bool
	Timestamp      time.Time
}

// Tables subject to retention purges.
const (
	TableRateHistory = "rate_history"
	TableAPILogs     = "api_logs"
)
