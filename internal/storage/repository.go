package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnknownTable is returned when a purge names a table outside the
	// retention whitelist.
	ErrUnknownTable = errors.New("storage: table not eligible for purge")
)

const (
	upsertCurrentSQL = `INSERT INTO current_rates (
        exchange_code,
        currency_pair,
        buy_price,
        sell_price,
        avg_price,
        variation_24h,
        volume_24h,
        source,
        market_status,
        last_update
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,'active',NOW()
    )
    ON CONFLICT (exchange_code, currency_pair) DO UPDATE
    SET
        buy_price     = EXCLUDED.buy_price,
        sell_price    = EXCLUDED.sell_price,
        avg_price     = EXCLUDED.avg_price,
        variation_24h = EXCLUDED.variation_24h,
        volume_24h    = EXCLUDED.volume_24h,
        source        = EXCLUDED.source,
        market_status = 'active',
        last_update   = NOW();`

	insertHistorySQL = `INSERT INTO rate_history (
        exchange_code,
        currency_pair,
        buy_price,
        sell_price,
        avg_price,
        volume_24h,
        source,
        api_method,
        trade_type,
        "timestamp"
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10::timestamptz, NOW())
    );`

	selectCurrentColumns = `SELECT
        exchange_code,
        currency_pair,
        buy_price,
        sell_price,
        avg_price,
        variation_24h,
        volume_24h,
        source,
        market_status,
        last_update
    FROM current_rates`

	getCurrentSQL = selectCurrentColumns + `
    WHERE ($1 = '' OR exchange_code = $1)
      AND ($2 = '' OR currency_pair = $2)
      AND ($3 OR market_status = 'active')
    ORDER BY exchange_code, currency_pair;`

	findCurrentSQL = selectCurrentColumns + `
    WHERE exchange_code = $1
      AND currency_pair = $2
    LIMIT 1;`

	selectHistoryColumns = `SELECT
        id,
        exchange_code,
        currency_pair,
        buy_price,
        sell_price,
        avg_price,
        volume_24h,
        source,
        api_method,
        trade_type,
        "timestamp"
    FROM rate_history`

	latestHistorySQL = selectHistoryColumns + `
    ORDER BY "timestamp" DESC, id DESC
    LIMIT $1;`

	historyBetweenSQL = selectHistoryColumns + `
    WHERE "timestamp" >= $1
      AND "timestamp" < $2
      AND ($3 = '' OR exchange_code = $3)
      AND ($4 = '' OR currency_pair = $4)
    ORDER BY "timestamp", id
    LIMIT NULLIF($5, 0);`

	recentAveragesSQL = `SELECT avg_price
    FROM rate_history
    WHERE exchange_code = $1
      AND currency_pair = $2
      AND avg_price IS NOT NULL
    ORDER BY "timestamp" DESC, id DESC
    LIMIT $3;`

	insertAPILogSQL = `INSERT INTO api_logs (
        endpoint,
        method,
        status_code,
        source,
        operation_type,
        ip_address,
        user_agent,
        response_time_ms,
        success,
        "timestamp"
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10::timestamptz, NOW())
    );`
)

// purgeSQL is the retention whitelist. Table names never come from input.
var purgeSQL = map[string]string{
	TableRateHistory: `DELETE FROM rate_history WHERE "timestamp" < NOW() - make_interval(days => $1);`,
	TableAPILogs:     `DELETE FROM api_logs WHERE "timestamp" < NOW() - make_interval(days => $1);`,
}

// RateStore defines current-state and history persistence.
type RateStore interface {
	UpsertCurrent(ctx context.Context, rate rates.CurrentRate) error
	InsertHistory(ctx context.Context, entry rates.HistoryEntry) error
	GetCurrent(ctx context.Context, filter CurrentFilter) ([]rates.CurrentRate, error)
	FindCurrent(ctx context.Context, exchange, pair string) (*rates.CurrentRate, error)
	LatestHistory(ctx context.Context, limit int) ([]rates.HistoryEntry, error)
	HistoryBetween(ctx context.Context, filter HistoryFilter) ([]rates.HistoryEntry, error)
	RecentAverages(ctx context.Context, exchange, pair string, n int) ([]decimal.Decimal, error)
}

// Housekeeper defines retention and audit operations.
type Housekeeper interface {
	PurgeOlderThan(ctx context.Context, table string, ageDays int) (int64, error)
	LogAPICall(ctx context.Context, entry APILog) error
	PoolStats() PoolStats
}

// Store provides persistence operations backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a new store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies connectivity with the database.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// withConn runs fn on a freshly acquired connection and always releases it.
func (s *Store) withConn(ctx context.Context, op string, fn func(conn *pgxpool.Conn) error) error {
	pool, err := s.getPool()
	if err != nil {
		return rates.Persistence(op, err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return rates.Persistence(op, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Release()
	return rates.Persistence(op, fn(conn))
}

// UpsertCurrent inserts or overwrites the current row of an exchange/pair.
func (s *Store) UpsertCurrent(ctx context.Context, rate rates.CurrentRate) error {
	return s.withConn(ctx, "upsert_current", func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, upsertCurrentSQL,
			rates.CanonicalExchange(rate.ExchangeCode),
			rates.CanonicalPair(rate.CurrencyPair),
			rate.BuyPrice.String(),
			rate.SellPrice.String(),
			rate.AvgPrice.String(),
			rate.Variation24h.String(),
			nullableDecimal(rate.Volume24h),
			rate.Source,
		)
		return err
	})
}

// InsertHistory appends one observation.
func (s *Store) InsertHistory(ctx context.Context, entry rates.HistoryEntry) error {
	var ts any
	if !entry.Timestamp.IsZero() {
		ts = entry.Timestamp
	}
	return s.withConn(ctx, "insert_history", func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, insertHistorySQL,
			rates.CanonicalExchange(entry.ExchangeCode),
			rates.CanonicalPair(entry.CurrencyPair),
			entry.BuyPrice.String(),
			entry.SellPrice.String(),
			entry.AvgPrice.String(),
			nullableDecimal(entry.Volume24h),
			entry.Source,
			string(entry.APIMethod),
			string(entry.TradeType),
			ts,
		)
		return err
	})
}

// GetCurrent lists current rows matching filter.
func (s *Store) GetCurrent(ctx context.Context, filter CurrentFilter) ([]rates.CurrentRate, error) {
	out := make([]rates.CurrentRate, 0)
	err := s.withConn(ctx, "get_current", func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, getCurrentSQL,
			rates.CanonicalExchange(filter.ExchangeCode),
			rates.CanonicalPair(filter.CurrencyPair),
			filter.IncludeInactive,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rate, scanErr := scanCurrent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, rate)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindCurrent returns the current row of exchange/pair, or nil when absent.
func (s *Store) FindCurrent(ctx context.Context, exchange, pair string) (*rates.CurrentRate, error) {
	var found *rates.CurrentRate
	err := s.withConn(ctx, "find_current", func(conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, findCurrentSQL, rates.CanonicalExchange(exchange), rates.CanonicalPair(pair))
		rate, err := scanCurrent(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &rate
		return nil
	})
	return found, err
}

// LatestHistory lists the newest history rows first.
func (s *Store) LatestHistory(ctx context.Context, limit int) ([]rates.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryHistory(ctx, "latest_history", latestHistorySQL, limit)
}

// HistoryBetween lists history rows inside the filter window, oldest first.
func (s *Store) HistoryBetween(ctx context.Context, filter HistoryFilter) ([]rates.HistoryEntry, error) {
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.queryHistory(ctx, "history_between", historyBetweenSQL,
		filter.From,
		filter.To,
		rates.CanonicalExchange(filter.ExchangeCode),
		rates.CanonicalPair(filter.CurrencyPair),
		filter.Limit,
	)
}

func (s *Store) queryHistory(ctx context.Context, op, sql string, args ...any) ([]rates.HistoryEntry, error) {
	out := make([]rates.HistoryEntry, 0)
	err := s.withConn(ctx, op, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			entry, scanErr := scanHistory(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentAverages returns up to n most recent history averages, newest first.
func (s *Store) RecentAverages(ctx context.Context, exchange, pair string, n int) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, n)
	err := s.withConn(ctx, "recent_averages", func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, recentAveragesSQL, rates.CanonicalExchange(exchange), rates.CanonicalPair(pair), n)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var avgStr string
			if err := rows.Scan(&avgStr); err != nil {
				return err
			}
			avg, err := decimal.NewFromString(avgStr)
			if err != nil {
				return fmt.Errorf("parse avg price: %w", err)
			}
			out = append(out, avg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeOlderThan deletes rows older than ageDays from a whitelisted table.
func (s *Store) PurgeOlderThan(ctx context.Context, table string, ageDays int) (int64, error) {
	sql, ok := purgeSQL[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if ageDays <= 0 {
		return 0, fmt.Errorf("purge %s: age must be positive, got %d", table, ageDays)
	}

	var deleted int64
	err := s.withConn(ctx, "purge_"+table, func(conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, sql, ageDays)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

// LogAPICall appends an api_logs row.
func (s *Store) LogAPICall(ctx context.Context, entry APILog) error {
	var ts any
	if !entry.Timestamp.IsZero() {
		ts = entry.Timestamp
	}
	return s.withConn(ctx, "log_api_call", func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, insertAPILogSQL,
			entry.Endpoint,
			entry.Method,
			entry.StatusCode,
			nullableString(entry.Source),
			nullableString(entry.OperationType),
			nullableString(entry.IPAddress),
			nullableString(entry.UserAgent),
			entry.ResponseTimeMS,
			entry.Success,
			ts,
		)
		return err
	})
}

// PoolStats reports pool occupancy. A nil store reports zeros.
func (s *Store) PoolStats() PoolStats {
	pool, err := s.getPool()
	if err != nil {
		return PoolStats{}
	}
	stat := pool.Stat()
	return PoolStats{
		Size:         stat.TotalConns(),
		Min:          pool.Config().MinConns,
		Max:          stat.MaxConns(),
		Idle:         stat.IdleConns(),
		Acquired:     stat.AcquiredConns(),
		AcquireCount: stat.AcquireCount(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCurrent(row rowScanner) (rates.CurrentRate, error) {
	var (
		rate                               rates.CurrentRate
		buy, sell, avg, variation, volume *string
		status                             string
	)
	if err := row.Scan(
		&rate.ExchangeCode,
		&rate.CurrencyPair,
		&buy,
		&sell,
		&avg,
		&variation,
		&volume,
		&rate.Source,
		&status,
		&rate.LastUpdate,
	); err != nil {
		return rates.CurrentRate{}, err
	}

	var err error
	if rate.BuyPrice, err = parseNullable(buy, "buy price"); err != nil {
		return rates.CurrentRate{}, err
	}
	if rate.SellPrice, err = parseNullable(sell, "sell price"); err != nil {
		return rates.CurrentRate{}, err
	}
	if rate.AvgPrice, err = parseNullable(avg, "avg price"); err != nil {
		return rates.CurrentRate{}, err
	}
	if rate.Variation24h, err = parseNullable(variation, "variation"); err != nil {
		return rates.CurrentRate{}, err
	}
	if volume != nil {
		v, err := decimal.NewFromString(*volume)
		if err != nil {
			return rates.CurrentRate{}, fmt.Errorf("parse volume: %w", err)
		}
		rate.Volume24h = &v
	}
	rate.MarketStatus = rates.MarketStatus(status)
	return rate, nil
}

func scanHistory(row rowScanner) (rates.HistoryEntry, error) {
	var (
		entry                  rates.HistoryEntry
		buy, sell, avg, volume *string
		method, trade          *string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.ExchangeCode,
		&entry.CurrencyPair,
		&buy,
		&sell,
		&avg,
		&volume,
		&entry.Source,
		&method,
		&trade,
		&entry.Timestamp,
	); err != nil {
		return rates.HistoryEntry{}, err
	}

	var err error
	if entry.BuyPrice, err = parseNullable(buy, "buy price"); err != nil {
		return rates.HistoryEntry{}, err
	}
	if entry.SellPrice, err = parseNullable(sell, "sell price"); err != nil {
		return rates.HistoryEntry{}, err
	}
	if entry.AvgPrice, err = parseNullable(avg, "avg price"); err != nil {
		return rates.HistoryEntry{}, err
	}
	if volume != nil {
		v, err := decimal.NewFromString(*volume)
		if err != nil {
			return rates.HistoryEntry{}, fmt.Errorf("parse volume: %w", err)
		}
		entry.Volume24h = &v
	}
	if method != nil {
		entry.APIMethod = rates.APIMethod(*method)
	}
	if trade != nil {
		entry.TradeType = rates.TradeType(*trade)
	}
	return entry, nil
}

func parseNullable(s *string, field string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ RateStore   = (*Store)(nil)
	_ Housekeeper = (*Store)(nil)
)
