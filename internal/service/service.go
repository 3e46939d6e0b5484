package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesrates/internal/alerting"
	"vesrates/internal/cache"
	"vesrates/internal/config"
	"vesrates/internal/events"
	"vesrates/internal/metrics"
	"vesrates/internal/normalizer"
	"vesrates/internal/rates"
	"vesrates/internal/reconcile"
	"vesrates/internal/registry"
	"vesrates/internal/scheduler"
	"vesrates/internal/storage"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Deps are the collaborators of the Service. Only Registry and Store are
// required; the rest fall back to no-op implementations.
type Deps struct {
	Registry    *registry.Registry
	Store       storage.RateStore
	Housekeeper storage.Housekeeper
	Cache       cache.Cache
	Publisher   events.Publisher
	Notifier    alerting.Notifier
	Metrics     *metrics.Metrics
	Scheduler   *scheduler.Scheduler
}

// Service orchestrates fetching, reconciliation, persistence and fan-out.
type Service struct {
	registry   *registry.Registry
	normalizer *normalizer.Normalizer
	detector   *reconcile.Detector
	store      storage.RateStore
	house      storage.Housekeeper
	cache      cache.Cache
	keys       cache.Keys
	publisher  events.Publisher
	notifier   alerting.Notifier
	metrics    *metrics.Metrics
	scheduler  *scheduler.Scheduler
	logger     zerolog.Logger

	currentTTL   time.Duration
	latestTTL    time.Duration
	fetchTimeout time.Duration
	retention  config.RetentionConfig
	schedule   config.SchedulerConfig
	alertOnErr bool
	alertOnGC  bool
	now        func() time.Time
}

// New wires the service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	band := rates.NewBand(cfg.Sources.BandMin, cfg.Sources.BandMax)

	c := deps.Cache
	if c == nil {
		c = cache.Nop{}
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = alerting.Nop{}
	}

	return &Service{
		registry:   deps.Registry,
		normalizer: normalizer.New(band, logger),
		detector:   reconcile.NewDetector(deps.Store, decimal.NewFromFloat(cfg.Reconcile.Tolerance), logger),
		store:      deps.Store,
		house:      deps.Housekeeper,
		cache:      c,
		keys:       cache.Keys{Prefix: cfg.Cache.Prefix},
		publisher:  pub,
		notifier:   notifier,
		metrics:    deps.Metrics,
		scheduler:  deps.Scheduler,
		logger:     logger.With().Str("component", "service").Logger(),
		currentTTL:   cfg.Cache.CurrentTTL,
		latestTTL:    cfg.Cache.LatestTTL,
		fetchTimeout: cfg.Sources.Timeout,
		retention:  cfg.Retention,
		schedule:   cfg.Scheduler,
		alertOnErr: cfg.Alerting.Enabled && cfg.Alerting.OnFailure,
		alertOnGC:  cfg.Alerting.Enabled && cfg.Alerting.OnCleanup,
		now:        time.Now,
	}
}

// Run drives the periodic refresh and the daily cleanup until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	jobs, err := s.Jobs()
	if err != nil {
		return err
	}
	return s.scheduler.Run(ctx, jobs...)
}

// Jobs describes the periodic work of the service.
func (s *Service) Jobs() ([]scheduler.Job, error) {
	loc := time.UTC
	if s.schedule.Timezone != "" {
		l, err := time.LoadLocation(s.schedule.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler timezone %q: %w", s.schedule.Timezone, err)
		}
		loc = l
	}

	return []scheduler.Job{
		{
			Name:       "refresh_all",
			Schedule:   scheduler.Every{Interval: s.schedule.RefreshInterval, AlignToStart: s.schedule.AlignToBucket},
			RunOnStart: s.schedule.RefreshOnStart,
			Tick: func(ctx context.Context, _ time.Time) error {
				report := s.RefreshAll(ctx)
				if !report.Healthy() {
					return fmt.Errorf("%d of %d exchanges failed", report.Failed, report.Failed+report.Succeeded)
				}
				return nil
			},
		},
		{
			Name:     "cleanup",
			Schedule: scheduler.Daily{Hour: s.schedule.CleanupHour, Location: loc},
			Tick: func(ctx context.Context, _ time.Time) error {
				_, err := s.Cleanup(ctx)
				return err
			},
		},
	}, nil
}

// Exchanges lists the registry.
func (s *Service) Exchanges() []rates.ExchangeConfig {
	return s.registry.Configs()
}

// PoolStats reports database pool occupancy.
func (s *Service) PoolStats() storage.PoolStats {
	if s.house == nil {
		return storage.PoolStats{}
	}
	return s.house.PoolStats()
}
