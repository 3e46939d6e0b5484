package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
	"vesrates/internal/service"
	"vesrates/internal/storage"
)

// Show prints current rates.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show rates")
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.GetCurrent(ctx, storage.CurrentFilter{
		ExchangeCode:    rates.CanonicalExchange(opts.Exchange),
		CurrencyPair:    rates.CanonicalPair(opts.Pair),
		IncludeInactive: opts.IncludeInactive,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no rates found")
		return nil
	}
	renderRates(a.Out, rows)
	return nil
}

// History prints the newest history entries.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show history")
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.LatestHistory(ctx, service.ClampHistoryLimit(opts.Limit))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no history found")
		return nil
	}
	renderHistory(a.Out, entries)
	return nil
}

// Exchanges prints the registry as configured.
func (a *App) Exchanges() error {
	reg, err := a.buildRegistry()
	if err != nil {
		return err
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tCategory\tActive\tInterval")
	for _, cfg := range reg.Configs() {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%s\n", cfg.Code, cfg.Name, cfg.Category, cfg.Active, cfg.RefreshInterval)
	}
	return writer.Flush()
}

// Refresh runs one refresh cycle, or a single exchange, and prints the outcome.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	store, closeStore, err := a.requireStore(ctx, "refresh")
	if err != nil {
		return err
	}
	defer closeStore()

	rt, err := a.newRuntime(ctx, store)
	if err != nil {
		return err
	}
	defer rt.close()

	var report service.Report
	if opts.Exchange != "" {
		ex, err := rt.svc.RefreshOne(ctx, opts.Exchange)
		if err != nil {
			return err
		}
		report = service.Report{
			Timestamp:  time.Now().UTC(),
			DurationMS: ex.DurationMS,
			Exchanges:  map[string]service.ExchangeReport{rates.CanonicalExchange(opts.Exchange): ex},
		}
		if ex.Status == service.StatusError {
			report.Failed = 1
		} else {
			report.Succeeded = 1
		}
	} else {
		report = rt.svc.RefreshAll(ctx)
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderReport(a.Out, report)
	}

	if !report.Healthy() {
		return fmt.Errorf("%d of %d exchanges failed", report.Failed, report.Failed+report.Succeeded)
	}
	return nil
}

// Cleanup applies the retention windows once.
func (a *App) Cleanup(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "clean up")
	if err != nil {
		return err
	}
	defer closeStore()

	rt, err := a.newRuntime(ctx, store)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.svc.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "rate_history deleted: %d\napi_logs deleted: %d\n", res.RateHistoryDeleted, res.APILogsDeleted)
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(context.Context) error {
	if a.Config.Database.DSN == "" {
		return fmt.Errorf("%w; cannot migrate", errNoDatabase)
	}
	v, err := storage.Migrate(a.Config.Database.DSN, a.Logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "schema at version %d\n", v)
	return nil
}

func renderRates(out io.Writer, rows []rates.CurrentRate) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Exchange\tPair\tBuy\tSell\tAvg\tVar24h%\tSource\tStatus\tUpdated (UTC)")
	for _, r := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ExchangeCode,
			r.CurrencyPair,
			formatDecimal(r.BuyPrice, 4),
			formatDecimal(r.SellPrice, 4),
			formatDecimal(r.AvgPrice, 4),
			formatDecimal(r.Variation24h, 2),
			r.Source,
			r.MarketStatus,
			r.LastUpdate.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func renderHistory(out io.Writer, entries []rates.HistoryEntry) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tExchange\tPair\tBuy\tSell\tAvg\tMethod\tTrade")
	for _, h := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Timestamp.UTC().Format(time.RFC3339),
			h.ExchangeCode,
			h.CurrencyPair,
			formatDecimal(h.BuyPrice, 4),
			formatDecimal(h.SellPrice, 4),
			formatDecimal(h.AvgPrice, 4),
			h.APIMethod,
			h.TradeType,
		)
	}
	writer.Flush()
}

func renderReport(out io.Writer, report service.Report) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Exchange\tStatus\tPairs\tHistory\tDuration\tError")
	for _, code := range report.Codes() {
		ex := report.Exchanges[code]
		written := 0
		for _, p := range ex.Data {
			if p.HistoryWritten {
				written++
			}
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%dms\t%s\n",
			code,
			ex.Status,
			len(ex.Data),
			written,
			ex.DurationMS,
			sanitizeInline(ex.Error),
		)
	}
	writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
