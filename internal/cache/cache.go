package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache stores JSON-encodable read models with a TTL.
type Cache interface {
	// Get decodes the value at key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// InvalidateAll removes every key owned by this cache.
	InvalidateAll(ctx context.Context) (int64, error)
	Close() error
}

// Keys builds namespaced cache keys.
type Keys struct {
	Prefix string
}

// CurrentRates is the key of a filtered current-rates listing.
func (k Keys) CurrentRates(exchange, pair string, includeInactive bool) string {
	return k.join("current_rates", orAll(exchange), orAll(pair), fmt.Sprintf("inactive=%t", includeInactive))
}

// LatestRates is the key of a latest-history listing of limit rows.
func (k Keys) LatestRates(limit int) string {
	return k.join("latest_rates", fmt.Sprintf("%d", limit))
}

// Pattern matches every key owned by the prefix.
func (k Keys) Pattern() string {
	return k.join("*")
}

func (k Keys) join(parts ...string) string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = "vesrates"
	}
	return prefix + ":" + strings.Join(parts, ":")
}

func orAll(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "all"
	}
	return s
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) InvalidateAll(context.Context) (int64, error) { return 0, nil }
func (Nop) Close() error { return nil }

var _ Cache = Nop{}
