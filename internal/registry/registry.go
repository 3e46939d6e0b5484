package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
)

var (
	// ErrUnknownExchange is returned for codes that were never registered.
	ErrUnknownExchange = errors.New("registry: unknown exchange")
	// ErrNoSource is returned when an exchange is registered without an adapter.
	ErrNoSource = errors.New("registry: exchange has no source")
)

// Entry pairs an exchange description with the adapter that serves it.
type Entry struct {
	Config rates.ExchangeConfig
	Source fetcher.Source
}

// Registry holds the exchanges known to the process. It is safe for
// concurrent use, so new exchanges can be added while refreshes run.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Defaults describes the built-in exchanges.
func Defaults() []rates.ExchangeConfig {
	return []rates.ExchangeConfig{
		{
			Code:            rates.ExchangeBCV,
			Name:            "Banco Central de Venezuela",
			Category:        rates.CategoryFiat,
			Description:     "Official USD and EUR reference rates",
			Active:          true,
			RefreshInterval: 60 * time.Minute,
		},
		{
			Code:            rates.ExchangeBinanceP2P,
			Name:            "Binance P2P",
			Category:        rates.CategoryCrypto,
			Description:     "USDT/VES peer-to-peer order book",
			Active:          true,
			RefreshInterval: 15 * time.Minute,
		},
		{
			Code:            rates.ExchangeItalcambios,
			Name:            "Italcambio",
			Category:        rates.CategoryFiat,
			Description:     "Exchange-house USD board",
			Active:          true,
			RefreshInterval: 30 * time.Minute,
		},
	}
}

// Register adds or replaces an exchange together with its adapter.
func (r *Registry) Register(cfg rates.ExchangeConfig, source fetcher.Source) error {
	cfg.Code = rates.CanonicalExchange(cfg.Code)
	if cfg.Code == "" {
		return fmt.Errorf("registry: exchange code is required")
	}
	if source == nil {
		return fmt.Errorf("%w: %s", ErrNoSource, cfg.Code)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Code
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[cfg.Code] = Entry{Config: cfg, Source: source}
	return nil
}

// Get looks up one exchange.
func (r *Registry) Get(code string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[rates.CanonicalExchange(code)]
	return e, ok
}

// All lists every registered exchange ordered by code.
func (r *Registry) All() []Entry {
	return r.list(func(Entry) bool { return true })
}

// Active lists active exchanges ordered by code.
func (r *Registry) Active() []Entry {
	return r.list(func(e Entry) bool { return e.Config.Active })
}

// Configs lists the descriptions of every exchange.
func (r *Registry) Configs() []rates.ExchangeConfig {
	entries := r.All()
	out := make([]rates.ExchangeConfig, len(entries))
	for i, e := range entries {
		out[i] = e.Config
	}
	return out
}

// SetActive toggles an exchange.
func (r *Registry) SetActive(code string, active bool) error {
	code = rates.CanonicalExchange(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, code)
	}
	e.Config.Active = active
	r.entries[code] = e
	return nil
}

func (r *Registry) list(keep func(Entry) bool) []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Config.Code < out[j].Config.Code })
	return out
}
