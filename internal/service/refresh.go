package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"vesrates/internal/alerting"
	"vesrates/internal/events"
	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
	"vesrates/internal/registry"
	"vesrates/internal/storage"
)

var errStoreMissing = errors.New("rate store not configured")

// RefreshAll fetches every active exchange concurrently and reconciles the
// results with stored state. It never fails as a whole: each exchange's
// failure is contained in its entry of the report.
func (s *Service) RefreshAll(ctx context.Context) Report {
	start := s.now()
	entries := s.registry.Active()
	report := Report{
		Timestamp: start.UTC(),
		Exchanges: make(map[string]ExchangeReport, len(entries)),
	}

	var (
		mu      sync.Mutex
		changed []events.RateChanged
		wg      = conc.NewWaitGroup()
	)
	for _, entry := range entries {
		wg.Go(func() {
			ex, evs := s.refreshIsolated(ctx, entry)
			mu.Lock()
			report.add(entry.Config.Code, ex)
			changed = append(changed, evs...)
			mu.Unlock()
		})
	}
	wg.Wait()

	report.DurationMS = s.now().Sub(start).Milliseconds()
	s.afterRefresh(ctx, report, changed)

	s.logger.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("history_writes", report.HistoryWrites()).
		Int64("duration_ms", report.DurationMS).
		Msg("refresh cycle finished")
	return report
}

// RefreshOne refreshes a single registered exchange.
func (s *Service) RefreshOne(ctx context.Context, code string) (ExchangeReport, error) {
	entry, ok := s.registry.Get(code)
	if !ok {
		return ExchangeReport{}, fmt.Errorf("%w: %s", registry.ErrUnknownExchange, code)
	}
	ex, evs := s.refreshIsolated(ctx, entry)
	report := Report{Timestamp: s.now().UTC(), Exchanges: map[string]ExchangeReport{}}
	report.add(entry.Config.Code, ex)
	s.afterRefresh(ctx, report, evs)
	return ex, nil
}

// refreshIsolated runs one exchange and turns a panic into an error entry.
func (s *Service) refreshIsolated(ctx context.Context, entry registry.Entry) (ExchangeReport, []events.RateChanged) {
	code := entry.Config.Code
	start := s.now()

	var (
		ex  ExchangeReport
		evs []events.RateChanged
		pc  panics.Catcher
	)
	pc.Try(func() { ex, evs = s.refreshExchange(ctx, entry) })
	if r := pc.Recovered(); r != nil {
		err := &rates.PanicError{Exchange: code, Value: fmt.Sprint(r.Value)}
		s.logger.Error().Str("exchange", code).Str("stack", string(r.Stack)).Msg("exchange pipeline panicked")
		ex = failed(err)
		evs = nil
	}

	ex.DurationMS = s.now().Sub(start).Milliseconds()
	s.metrics.RecordRefresh(code, ex.Status, string(ex.ErrorKind), s.now().Sub(start))
	s.logAPICall(ctx, entry, ex)
	return ex, evs
}

func (s *Service) refreshExchange(ctx context.Context, entry registry.Entry) (ExchangeReport, []events.RateChanged) {
	code := entry.Config.Code
	logger := s.logger.With().Str("exchange", code).Logger()

	if s.store == nil {
		return failed(rates.Persistence("refresh", errStoreMissing)), nil
	}

	payload, err := s.fetch(ctx, entry)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(rates.KindOf(err))).Msg("fetch failed")
		return failed(err), nil
	}

	normalized, err := s.normalizer.Normalize(code, payload)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(rates.KindOf(err))).Msg("normalization failed")
		ex := failed(err)
		ex.Shape = normalized.Shape
		return ex, nil
	}

	ex := ExchangeReport{
		Status: StatusSuccess,
		Shape:  normalized.Shape,
		Market: normalized.Market,
	}
	for _, w := range normalized.Partial {
		ex.Warnings = append(ex.Warnings, w.Error())
	}

	var (
		evs      []events.RateChanged
		pairErrs []error
	)
	for _, candidate := range normalized.Candidates {
		outcome, ev, err := s.reconcile(ctx, logger, candidate)
		ex.Data = append(ex.Data, outcome)
		if ev != nil {
			evs = append(evs, *ev)
		}
		if err != nil {
			pairErrs = append(pairErrs, err)
			ex.Warnings = append(ex.Warnings, err.Error())
		}
	}

	if len(pairErrs) == len(normalized.Candidates) {
		err := errors.Join(pairErrs...)
		ex.Status = StatusError
		ex.Error = err.Error()
		ex.ErrorKind = rates.KindOf(err)
		ex.Warnings = nil
	}
	return ex, evs
}

// fetch bounds the whole adapter call, retries and fallbacks included,
// by the configured source timeout.
func (s *Service) fetch(ctx context.Context, entry registry.Entry) (fetcher.Payload, error) {
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	return entry.Source.Fetch(ctx)
}

// reconcile detects change against the stored row, appends history when
// needed and then overwrites the current row. Detection must precede the
// upsert.
func (s *Service) reconcile(ctx context.Context, logger zerolog.Logger, c rates.Candidate) (PairOutcome, *events.RateChanged, error) {
	c.ExchangeCode = rates.CanonicalExchange(c.ExchangeCode)
	c.CurrencyPair = rates.CanonicalPair(c.CurrencyPair)
	outcome := PairOutcome{
		CurrencyPair: c.CurrencyPair,
		BuyPrice:     c.BuyPrice,
		SellPrice:    c.SellPrice,
		AvgPrice:     c.AvgPrice,
		Volume24h:    c.Volume24h,
		Source:       c.Source,
	}

	changed, detErr := s.detector.HasChanged(ctx, c.ExchangeCode, c.CurrencyPair, c.AvgPrice)
	if detErr != nil {
		logger.Warn().Err(detErr).Str("pair", c.CurrencyPair).Msg("change detection degraded")
	}
	outcome.Changed = changed

	var errs []error
	if changed {
		entry := c.History()
		entry.Timestamp = s.now().UTC()
		if err := s.store.InsertHistory(ctx, entry); err != nil {
			errs = append(errs, err)
		} else {
			outcome.HistoryWritten = true
		}
	}

	variation := s.variation(ctx, logger, c)
	outcome.Variation24h = variation

	if err := s.store.UpsertCurrent(ctx, c.Current(variation)); err != nil {
		errs = append(errs, err)
	} else {
		outcome.CurrentWritten = true
	}

	avg, _ := c.AvgPrice.Float64()
	s.metrics.RecordCandidate(c.ExchangeCode, c.CurrencyPair, avg, outcome.HistoryWritten)

	var ev *events.RateChanged
	if outcome.HistoryWritten {
		e := events.NewRateChanged(c, variation, s.now())
		ev = &e
	}

	if err := errors.Join(errs...); err != nil {
		outcome.Error = err.Error()
		logger.Error().Err(err).Str("pair", c.CurrencyPair).Msg("failed to persist rate")
		return outcome, ev, fmt.Errorf("%s: %w", c.CurrencyPair, err)
	}

	logger.Debug().
		Str("pair", c.CurrencyPair).
		Str("avg", c.AvgPrice.String()).
		Bool("changed", changed).
		Msg("rate reconciled")
	return outcome, ev, nil
}

// variation is the percent change between the two newest history averages.
func (s *Service) variation(ctx context.Context, logger zerolog.Logger, c rates.Candidate) decimal.Decimal {
	avgs, err := s.store.RecentAverages(ctx, c.ExchangeCode, c.CurrencyPair, 2)
	if err != nil {
		logger.Warn().Err(err).Str("pair", c.CurrencyPair).Msg("variation unavailable")
		return decimal.Zero
	}
	if len(avgs) < 2 {
		return decimal.Zero
	}
	return rates.Variation(avgs[0], avgs[1])
}

// afterRefresh runs the best-effort side effects of a cycle.
func (s *Service) afterRefresh(ctx context.Context, report Report, changed []events.RateChanged) {
	if wroteAny(report) {
		if n, err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("cache invalidation failed")
		} else if n > 0 {
			s.logger.Debug().Int64("keys", n).Msg("cache invalidated")
		}
	}

	if len(changed) > 0 {
		if err := s.publisher.Publish(ctx, changed...); err != nil {
			s.logger.Warn().Err(err).Int("events", len(changed)).Msg("failed to publish rate events")
		}
	}

	if s.alertOnErr && !report.Healthy() {
		note := alerting.Notification{
			Kind:      alerting.KindDegraded,
			Timestamp: report.Timestamp,
			Failures:  report.Failures(),
			Succeeded: report.Succeeded,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch degraded alert")
		}
	}
}

func (s *Service) logAPICall(ctx context.Context, entry registry.Entry, ex ExchangeReport) {
	if s.house == nil {
		return
	}
	status := 200
	if ex.Status == StatusError {
		status = 502
	}
	err := s.house.LogAPICall(ctx, storage.APILog{
		Endpoint:       "refresh:" + entry.Config.Code,
		Method:         "FETCH",
		StatusCode:     status,
		Source:         entry.Source.Name(),
		OperationType:  "refresh",
		ResponseTimeMS: ex.DurationMS,
		Success:        ex.Status != StatusError,
		Timestamp:      s.now().UTC(),
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("exchange", entry.Config.Code).Msg("api log not recorded")
	}
}

func wroteAny(report Report) bool {
	for _, ex := range report.Exchanges {
		for _, p := range ex.Data {
			if p.CurrentWritten || p.HistoryWritten {
				return true
			}
		}
	}
	return false
}

func failed(err error) ExchangeReport {
	return ExchangeReport{
		Status:    StatusError,
		Error:     err.Error(),
		ErrorKind: rates.KindOf(err),
	}
}
