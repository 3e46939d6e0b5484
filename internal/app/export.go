package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"vesrates/internal/rates"
	"vesrates/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders rate history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := store.HistoryBetween(ctx, storage.HistoryFilter{
		ExchangeCode: rates.CanonicalExchange(opts.Exchange),
		CurrencyPair: rates.CanonicalPair(opts.Pair),
		From:         from,
		To:           to,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no history found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting rate history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEntries(entries []rates.HistoryEntry, max int) []rates.HistoryEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	if max == 1 {
		return entries[len(entries)-1:]
	}

	result := make([]rates.HistoryEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeHistoryCSV(path string, entries []rates.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "exchange_code", "currency_pair", "buy_price", "sell_price", "avg_price", "volume_24h", "source", "api_method", "trade_type"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, h := range entries {
		volume := ""
		if h.Volume24h != nil {
			volume = h.Volume24h.String()
		}
		record := []string{
			h.Timestamp.UTC().Format(time.RFC3339),
			h.ExchangeCode,
			h.CurrencyPair,
			h.BuyPrice.String(),
			h.SellPrice.String(),
			h.AvgPrice.String(),
			volume,
			h.Source,
			string(h.APIMethod),
			string(h.TradeType),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// seriesKey is one line of the chart.
func seriesKey(h rates.HistoryEntry) string {
	return h.ExchangeCode + " " + h.CurrencyPair
}

func writeHistoryPNG(path string, entries []rates.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	xs := map[string][]time.Time{}
	ys := map[string][]float64{}
	for _, h := range entries {
		key := seriesKey(h)
		xs[key] = append(xs[key], h.Timestamp)
		ys[key] = append(ys[key], h.AvgPrice.InexactFloat64())
	}
	keys := make([]string, 0, len(xs))
	for k := range xs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]chart.Series, 0, len(keys))
	for _, k := range keys {
		if len(xs[k]) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: k, XValues: xs[k], YValues: ys[k]})
	}
	if len(series) == 0 {
		return errors.New("not enough points to draw a chart")
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Average price (VES)",
			ValueFormatter: rateFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
