package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/config"
	"vesrates/internal/rates"
)

// Set VESRATES_TEST_DATABASE_DSN to a disposable database to run these.
const integrationDSNEnv = "VESRATES_TEST_DATABASE_DSN"

func openIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv(integrationDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", integrationDSNEnv)
	}

	_, err := Migrate(dsn, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, StatementTimeout: 30 * time.Second})
	require.NoError(t, err)
	store := NewStore(pool)

	code := fmt.Sprintf("IT%d", time.Now().UnixNano()%1_000_000_000)
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM current_rates WHERE exchange_code = $1`, code)
		_, _ = pool.Exec(ctx, `DELETE FROM rate_history WHERE exchange_code = $1`, code)
		store.Close()
	})
	return store, code
}

func TestStoreUpsertCurrentIsIdempotent(t *testing.T) {
	store, code := openIntegrationStore(t)
	ctx := context.Background()

	vol := decimal.RequireFromString("1250.75")
	rate := rates.CurrentRate{
		ExchangeCode: code,
		CurrencyPair: "usdt/ves",
		BuyPrice:     decimal.RequireFromString("37.5"),
		SellPrice:    decimal.RequireFromString("36.9"),
		AvgPrice:     decimal.RequireFromString("37.2"),
		Variation24h: decimal.RequireFromString("1.25"),
		Volume24h:    &vol,
		Source:       "binance_p2p_api",
	}
	require.NoError(t, store.UpsertCurrent(ctx, rate))

	first, err := store.FindCurrent(ctx, code, rates.PairUSDTVES)
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.UpsertCurrent(ctx, rate))

	rows, err := store.GetCurrent(ctx, CurrentFilter{ExchangeCode: code, CurrencyPair: rates.PairUSDTVES})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.True(t, got.BuyPrice.Equal(rate.BuyPrice), got.BuyPrice.String())
	assert.True(t, got.SellPrice.Equal(rate.SellPrice), got.SellPrice.String())
	assert.True(t, got.AvgPrice.Equal(rate.AvgPrice), got.AvgPrice.String())
	require.NotNil(t, got.Volume24h)
	assert.True(t, got.Volume24h.Equal(vol), got.Volume24h.String())
	assert.Equal(t, rates.MarketActive, got.MarketStatus)
	assert.True(t, got.LastUpdate.After(first.LastUpdate), "last_update should advance on every upsert")

	all, err := store.GetCurrent(ctx, CurrentFilter{})
	require.NoError(t, err)
	var seen int
	for _, r := range all {
		if r.ExchangeCode == code {
			seen++
		}
	}
	assert.Equal(t, 1, seen)

	none, err := store.GetCurrent(ctx, CurrentFilter{ExchangeCode: code, CurrencyPair: rates.PairUSDVES})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreInsertHistoryAppends(t *testing.T) {
	store, code := openIntegrationStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	prices := []string{"36.10", "36.20", "36.30"}
	for i, p := range prices {
		price := decimal.RequireFromString(p)
		entry := rates.HistoryEntry{
			ExchangeCode: code,
			CurrencyPair: rates.PairUSDVES,
			BuyPrice:     price,
			SellPrice:    price,
			AvgPrice:     price,
			Source:       "bcv_web_scraping",
			APIMethod:    rates.MethodWebScraping,
			TradeType:    rates.TradeOfficial,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.InsertHistory(ctx, entry))
	}
	require.NoError(t, store.InsertHistory(ctx, rates.HistoryEntry{
		ExchangeCode: code,
		CurrencyPair: rates.PairUSDVES,
		BuyPrice:     decimal.RequireFromString("36.40"),
		SellPrice:    decimal.RequireFromString("36.40"),
		AvgPrice:     decimal.RequireFromString("36.40"),
		Source:       "bcv_web_scraping",
	}))

	entries, err := store.HistoryBetween(ctx, HistoryFilter{
		ExchangeCode: code,
		CurrencyPair: rates.PairUSDVES,
		From:         base.Add(-time.Minute),
		To:           time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, entries, len(prices)+1)
	assert.Equal(t, base, entries[0].Timestamp.UTC())
	assert.Equal(t, rates.TradeOfficial, entries[0].TradeType)
	assert.True(t, entries[3].Timestamp.After(entries[2].Timestamp), "default timestamp falls back to NOW()")

	avgs, err := store.RecentAverages(ctx, code, rates.PairUSDVES, 2)
	require.NoError(t, err)
	require.Len(t, avgs, 2)
	assert.True(t, avgs[0].Equal(decimal.RequireFromString("36.40")))
	assert.True(t, avgs[1].Equal(decimal.RequireFromString("36.30")))
}
