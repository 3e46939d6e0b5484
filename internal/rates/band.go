package rates

import "github.com/shopspring/decimal"

// Band is the plausible range for a VES-denominated quotation.
type Band struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultBand accepts 0.1 to 1000 bolívares per unit.
func DefaultBand() Band {
	return Band{Min: decimal.RequireFromString("0.1"), Max: decimal.NewFromInt(1000)}
}

// NewBand builds a band from float bounds, falling back to DefaultBand for
// non-positive or inverted input.
func NewBand(min, max float64) Band {
	if min <= 0 || max <= 0 || min >= max {
		return DefaultBand()
	}
	return Band{Min: decimal.NewFromFloat(min), Max: decimal.NewFromFloat(max)}
}

// Contains reports whether v lies inside the band, bounds included.
func (b Band) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(b.Min) && v.LessThanOrEqual(b.Max)
}

// Check returns an OutOfRangeError when v is outside the band.
func (b Band) Check(source, pair string, v decimal.Decimal) error {
	if b.Contains(v) {
		return nil
	}
	return &OutOfRangeError{Source: source, Pair: pair, Value: v, Band: b}
}
