package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"vesrates/internal/alerting"
	"vesrates/internal/cache"
	"vesrates/internal/config"
	"vesrates/internal/events"
	"vesrates/internal/fetcher"
	"vesrates/internal/httpapi"
	"vesrates/internal/metrics"
	"vesrates/internal/rates"
	"vesrates/internal/registry"
	"vesrates/internal/scheduler"
	"vesrates/internal/service"
	"vesrates/internal/storage"
	"vesrates/internal/version"
)

var errNoDatabase = errors.New("database.dsn not configured")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) httpOptions() fetcher.HTTPOptions {
	src := a.Config.Sources
	return fetcher.HTTPOptions{
		Timeout:   src.Timeout,
		UserAgent: src.UserAgent,
		Band:      rates.NewBand(src.BandMin, src.BandMax),
	}
}

// buildRegistry registers the built-in adapters and configured feeds,
// skipping anything listed in sources.disabled.
func (a *App) buildRegistry() (*registry.Registry, error) {
	reg := registry.New()
	src := a.Config.Sources
	base := a.httpOptions()

	bcvHTTP := base
	bcvHTTP.InsecureSkipVerify = src.BCV.InsecureSkipVerify

	builtin := map[string]fetcher.Source{
		rates.ExchangeBCV: fetcher.NewBCV(fetcher.BCVOptions{HTTPOptions: bcvHTTP, URLs: src.BCV.URLs}, a.Logger),
		rates.ExchangeBinanceP2P: fetcher.NewBinanceP2P(fetcher.BinanceOptions{
			HTTPOptions:   base,
			URL:           src.Binance.URL,
			Fiat:          src.Binance.Fiat,
			Asset:         src.Binance.Asset,
			Rows:          src.Binance.Rows,
			TransAmount:   src.Binance.TransAmount,
			PayTypes:      src.Binance.PayTypes,
			PublisherType: src.Binance.PublisherType,
		}, a.Logger),
		rates.ExchangeItalcambios: fetcher.NewItalcambios(fetcher.ItalcambiosOptions{HTTPOptions: base, URL: src.Italcambios.URL}, a.Logger),
	}

	for _, cfg := range registry.Defaults() {
		if a.Config.IsDisabled(cfg.Code) {
			a.Logger.Info().Str("exchange", cfg.Code).Msg("exchange disabled by configuration")
			continue
		}
		if err := reg.Register(cfg, builtin[cfg.Code]); err != nil {
			return nil, err
		}
	}

	for _, feed := range src.Feeds {
		code := rates.CanonicalExchange(feed.Code)
		if a.Config.IsDisabled(code) {
			continue
		}
		if _, exists := reg.Get(code); exists {
			return nil, fmt.Errorf("feed %s collides with a registered exchange", code)
		}
		category := rates.Category(strings.ToLower(feed.Category))
		if category == "" {
			category = rates.CategoryFiat
		}
		source := fetcher.NewJSONFeed(fetcher.JSONFeedOptions{HTTPOptions: base, Code: code, URL: feed.URL}, a.Logger)
		cfg := rates.ExchangeConfig{
			Code:            code,
			Name:            feed.Name,
			Category:        category,
			Description:     feed.Description,
			Active:          feed.Active,
			RefreshInterval: feed.RefreshInterval,
		}
		if err := reg.Register(cfg, source); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pgPool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pgPool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the store and fails when no DSN is configured.
func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("%w; cannot %s", errNoDatabase, purpose)
	}
	return store, closeStore, nil
}

// runtime bundles a wired service with its teardown.
type runtime struct {
	svc     *service.Service
	store   *storage.Store
	metrics *metrics.Metrics
	close   func()
}

// newRuntime wires the service around store. Optional collaborators that
// fail to start are logged and replaced by no-ops.
func (a *App) newRuntime(ctx context.Context, store *storage.Store) (*runtime, error) {
	reg, err := a.buildRegistry()
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New(a.Config.Metrics.Namespace)
	}

	c := cache.Open(ctx, a.Config.Cache, a.Logger)
	pub, err := events.Open(a.Config.Events, a.Logger)
	if err != nil {
		a.Logger.Error().Err(err).Msg("event publisher unavailable; continuing without events")
		pub = events.Nop{}
	}

	deps := service.Deps{
		Registry:  reg,
		Cache:     c,
		Publisher: pub,
		Notifier:  alerting.FromConfig(a.Config.Alerting, a.Logger),
		Metrics:   m,
		Scheduler: scheduler.New(scheduler.Options{
			StartupDelay: a.Config.Scheduler.StartupDelay,
			Grace:        a.Config.Scheduler.Grace,
		}, a.Logger),
	}
	if store != nil {
		deps.Store = store
		deps.Housekeeper = store
	}

	closer := func() {
		if err := pub.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing event publisher")
		}
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing cache")
		}
	}

	return &runtime{
		svc:     service.New(a.Config, deps, a.Logger),
		store:   store,
		metrics: m,
		close:   closer,
	}, nil
}

// Serve runs the scheduler and the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil && a.Config.Database.MigrateOnStart {
		if _, err := storage.Migrate(a.Config.Database.DSN, a.Logger); err != nil {
			return err
		}
	}

	rt, err := a.newRuntime(ctx, store)
	if err != nil {
		return err
	}
	defer rt.close()

	var pinger httpapi.Pinger
	if store != nil {
		pinger = store
	}
	server := httpapi.NewServer(a.Config.HTTP, rt.svc, pinger, rt.metrics, version.Get().String(), a.Logger)

	a.Logger.Info().
		Int("exchanges", len(rt.svc.Exchanges())).
		Dur("refresh_interval", a.Config.Scheduler.RefreshInterval).
		Msg("starting rate aggregation service")

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(rt.svc.Run)
	p.Go(server.Run)
	err = p.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("rate aggregation service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Exchange        string
	Pair            string
	IncludeInactive bool
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
}

// RefreshOptions configure the one-shot refresh.
type RefreshOptions struct {
	Exchange string
	JSON     bool
}

// ExportOptions hold parameters for exporting rate history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Exchange  string
	Pair      string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
