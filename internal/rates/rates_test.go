package rates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPair(t *testing.T) {
	cases := map[string]string{
		"usd/ves":   "USD/VES",
		" Usd_Ves ": "USD/VES",
		"usdt-ves":  "USDT/VES",
		"EUR / VES": "EUR/VES",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalPair(in), in)
	}
	assert.Equal(t, "BINANCE_P2P", CanonicalExchange(" binance_p2p "))
	assert.Equal(t, "ETH/VES", PairFor("eth"))
}

func TestReferencePrice(t *testing.T) {
	d := decimal.RequireFromString
	assert.True(t, ReferencePrice(d("10"), d("12"), d("11.5")).Equal(d("11.5")))
	assert.True(t, ReferencePrice(d("10"), d("12"), decimal.Zero).Equal(d("11")))
	assert.True(t, ReferencePrice(d("10"), decimal.Zero, decimal.Zero).Equal(d("5")))
	assert.True(t, ReferencePrice(decimal.Zero, d("37"), decimal.Zero).Equal(d("18.5")))
	assert.True(t, ReferencePrice(decimal.Zero, decimal.Zero, decimal.Zero).IsZero())
}

func TestMeanAndVariation(t *testing.T) {
	d := decimal.RequireFromString
	assert.Equal(t, "105", Mean(d("100"), d("110")).String())
	assert.Equal(t, "36.6667", Mean(d("36.3333"), d("37.0001")).String())

	assert.Equal(t, "10", Variation(d("110"), d("100")).String())
	assert.Equal(t, "-3.3333", Variation(d("29"), d("30")).String())
	assert.True(t, Variation(d("29"), decimal.Zero).IsZero())
}

func TestBand(t *testing.T) {
	b := DefaultBand()
	assert.True(t, b.Contains(decimal.RequireFromString("0.1")))
	assert.True(t, b.Contains(decimal.NewFromInt(1000)))
	assert.False(t, b.Contains(decimal.NewFromInt(1500)))

	err := b.Check("bcv", PairUSDVES, decimal.NewFromInt(1500))
	var oe *OutOfRangeError
	assert.ErrorAs(t, err, &oe)
	assert.Equal(t, KindOutOfRange, KindOf(err))

	assert.Equal(t, DefaultBand(), NewBand(5, 1))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindFetch, KindOf(&FetchError{Source: "x", Err: errors.New("boom")}))
	assert.Equal(t, KindFetch, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindScrapeStructure, KindOf(fmt.Errorf("wrap: %w", &ScrapeStructureError{Source: "bcv", Marker: "div#euro"})))
	assert.Equal(t, KindNormalization, KindOf(&NormalizationError{Exchange: "X", Reason: "empty"}))
	assert.Equal(t, KindPersistence, KindOf(Persistence("upsert", errors.New("conn reset"))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	joined := errors.Join(&ScrapeStructureError{Source: "bcv", Marker: "div#dolar"}, &ScrapeStructureError{Source: "bcv", Marker: "div#euro"})
	assert.Equal(t, KindScrapeStructure, KindOf(joined))

	mixed := errors.Join(
		&OutOfRangeError{Source: "bcv", Pair: PairUSDVES, Value: decimal.NewFromInt(5000), Band: DefaultBand()},
		&ScrapeStructureError{Source: "bcv", Marker: "div#euro"},
	)
	assert.Equal(t, KindOutOfRange, KindOf(mixed))
	assert.Equal(t, KindOutOfRange, KindOf(fmt.Errorf("bcv: %w", mixed)))
	assert.Equal(t, KindScrapeStructure, KindOf(errors.Join(errors.New("plain"), &ScrapeStructureError{Source: "bcv", Marker: "div#dolar"})))
	assert.Equal(t, KindFetch, KindOf(&FetchError{Source: "bcv", Err: &ScrapeStructureError{Source: "bcv", Marker: "x"}}))
}

func TestPersistenceDoesNotDoubleWrap(t *testing.T) {
	base := Persistence("insert history", errors.New("x"))
	again := Persistence("outer", base)
	assert.Same(t, base, again)
	assert.Nil(t, Persistence("noop", nil))
}
