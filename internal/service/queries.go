package service

import (
	"context"
	"strings"

	"vesrates/internal/alerting"
	"vesrates/internal/rates"
	"vesrates/internal/storage"
)

// Overall serving states.
const (
	OverallHealthy  = "healthy"
	OverallDegraded = "degraded"
)

// statusPairs is the pair whose current row represents each known exchange.
var statusPairs = map[string]string{
	rates.ExchangeBCV:         rates.PairUSDVES,
	rates.ExchangeBinanceP2P:  rates.PairUSDTVES,
	rates.ExchangeItalcambios: rates.PairUSDVES,
}

// CurrentRates returns current rows, read through the cache.
func (s *Service) CurrentRates(ctx context.Context, filter storage.CurrentFilter) ([]rates.CurrentRate, error) {
	if s.store == nil {
		return nil, rates.Persistence("get current", errStoreMissing)
	}
	filter.ExchangeCode = rates.CanonicalExchange(filter.ExchangeCode)
	filter.CurrencyPair = rates.CanonicalPair(filter.CurrencyPair)

	key := s.keys.CurrentRates(filter.ExchangeCode, filter.CurrencyPair, filter.IncludeInactive)
	var cached []rates.CurrentRate
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
	} else if hit {
		return cached, nil
	}

	rows, err := s.store.GetCurrent(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, rows, s.currentTTL); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
	return rows, nil
}

// LatestHistory returns the newest history entries. The limit defaults to
// 100 and is capped at 1000.
func (s *Service) LatestHistory(ctx context.Context, limit int) ([]rates.HistoryEntry, error) {
	if s.store == nil {
		return nil, rates.Persistence("latest history", errStoreMissing)
	}
	limit = ClampHistoryLimit(limit)

	key := s.keys.LatestRates(limit)
	var cached []rates.HistoryEntry
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
	} else if hit {
		return cached, nil
	}

	entries, err := s.store.LatestHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, entries, s.latestTTL); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
	return entries, nil
}

// HistoryBetween returns history rows in [From, To). It bypasses the cache.
func (s *Service) HistoryBetween(ctx context.Context, filter storage.HistoryFilter) ([]rates.HistoryEntry, error) {
	if s.store == nil {
		return nil, rates.Persistence("history range", errStoreMissing)
	}
	filter.ExchangeCode = rates.CanonicalExchange(filter.ExchangeCode)
	filter.CurrencyPair = rates.CanonicalPair(filter.CurrencyPair)
	return s.store.HistoryBetween(ctx, filter)
}

// ClampHistoryLimit applies the default and ceiling of history listings.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

// Status reports, for every active exchange, whether a current row is being
// served. Any exchange without one degrades the overall status.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{Sources: map[string]SourceStatus{}, OverallStatus: OverallHealthy}
	for _, entry := range s.registry.Active() {
		code := entry.Config.Code
		rows, err := s.CurrentRates(ctx, storage.CurrentFilter{ExchangeCode: code, CurrencyPair: statusPairs[code]})
		if err != nil {
			return StatusReport{}, err
		}

		st := SourceStatus{Status: string(rates.MarketInactive)}
		if len(rows) > 0 {
			row := rows[0]
			updated := row.LastUpdate
			price := row.BuyPrice
			st = SourceStatus{Status: string(rates.MarketActive), LastUpdate: &updated, Rate: &price}
		} else {
			report.OverallStatus = OverallDegraded
		}
		report.Sources[strings.ToLower(code)] = st
	}
	return report, nil
}

// Cleanup applies retention to history and api logs.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	if s.house == nil {
		return CleanupResult{}, rates.Persistence("cleanup", errStoreMissing)
	}

	var result CleanupResult
	history, err := s.house.PurgeOlderThan(ctx, storage.TableRateHistory, s.retention.HistoryDays)
	if err != nil {
		return result, err
	}
	result.RateHistoryDeleted = history
	s.metrics.RecordPurge(storage.TableRateHistory, history)

	logs, err := s.house.PurgeOlderThan(ctx, storage.TableAPILogs, s.retention.APILogDays)
	if err != nil {
		return result, err
	}
	result.APILogsDeleted = logs
	s.metrics.RecordPurge(storage.TableAPILogs, logs)

	if history > 0 {
		if _, err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("cache invalidation failed")
		}
	}

	s.logger.Info().
		Int64("rate_history_deleted", history).
		Int64("api_logs_deleted", logs).
		Msg("retention applied")

	if s.alertOnGC {
		note := alerting.Notification{
			Kind:      alerting.KindCleanup,
			Timestamp: s.now().UTC(),
			Purged: map[string]int64{
				storage.TableRateHistory: history,
				storage.TableAPILogs:     logs,
			},
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch cleanup notification")
		}
	}
	return result, nil
}
