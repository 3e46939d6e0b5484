package reconcile

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

// DefaultTolerance is the relative difference below which a price is
// considered unchanged.
var DefaultTolerance = decimal.RequireFromString("0.0001")

// CurrentFinder reads the stored current row of an exchange/pair. A missing
// row is reported as (nil, nil).
type CurrentFinder interface {
	FindCurrent(ctx context.Context, exchange, pair string) (*rates.CurrentRate, error)
}

// Detector decides whether a candidate price differs from stored state.
type Detector struct {
	store     CurrentFinder
	tolerance decimal.Decimal
	logger    zerolog.Logger
}

// NewDetector constructs a Detector. A non-positive tolerance selects
// DefaultTolerance.
func NewDetector(store CurrentFinder, tolerance decimal.Decimal, logger zerolog.Logger) *Detector {
	if tolerance.Sign() <= 0 {
		tolerance = DefaultTolerance
	}
	return &Detector{
		store:     store,
		tolerance: tolerance,
		logger:    logger.With().Str("component", "detector").Logger(),
	}
}

// Tolerance returns the configured relative tolerance.
func (d *Detector) Tolerance() decimal.Decimal { return d.tolerance }

// HasChanged compares price against the stored reference price of
// exchange/pair. It must be called before the current row is overwritten.
// A read failure reports true together with the error.
func (d *Detector) HasChanged(ctx context.Context, exchange, pair string, price decimal.Decimal) (bool, error) {
	stored, err := d.store.FindCurrent(ctx, exchange, pair)
	if err != nil {
		d.logger.Warn().Err(err).Str("exchange", exchange).Str("pair", pair).Msg("stored rate unreadable, treating as changed")
		return true, err
	}
	if stored == nil {
		return true, nil
	}

	changed := Differs(price, rates.ReferencePrice(stored.BuyPrice, stored.SellPrice, stored.AvgPrice), d.tolerance)
	if !changed {
		d.logger.Debug().Str("exchange", exchange).Str("pair", pair).Str("price", price.String()).Msg("price unchanged")
	}
	return changed, nil
}

// Differs reports whether |price - reference| / reference exceeds tolerance.
// A zero reference always differs.
func Differs(price, reference, tolerance decimal.Decimal) bool {
	if reference.IsZero() {
		return true
	}
	return price.Sub(reference).Abs().Div(reference.Abs()).GreaterThan(tolerance)
}
