package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/rates"
)

type stubFinder struct {
	rate  *rates.CurrentRate
	err   error
	calls int
}

func (s *stubFinder) FindCurrent(context.Context, string, string) (*rates.CurrentRate, error) {
	s.calls++
	return s.rate, s.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHasChanged(t *testing.T) {
	tests := []struct {
		name   string
		stored *rates.CurrentRate
		price  string
		want   bool
	}{
		{name: "no stored row", stored: nil, price: "36.50", want: true},
		{name: "identical avg", stored: &rates.CurrentRate{AvgPrice: d("36.50")}, price: "36.50", want: false},
		{name: "inside tolerance", stored: &rates.CurrentRate{AvgPrice: d("36.50")}, price: "36.5030", want: false},
		{name: "outside tolerance", stored: &rates.CurrentRate{AvgPrice: d("36.50")}, price: "36.51", want: true},
		{name: "exactly at tolerance", stored: &rates.CurrentRate{AvgPrice: d("100")}, price: "100.01", want: false},
		{name: "mean when avg is zero", stored: &rates.CurrentRate{BuyPrice: d("36"), SellPrice: d("37")}, price: "36.5", want: false},
		{name: "buy only compares against the mean", stored: &rates.CurrentRate{BuyPrice: d("36")}, price: "18", want: false},
		{name: "buy only full price", stored: &rates.CurrentRate{BuyPrice: d("36")}, price: "36", want: true},
		{name: "sell only compares against the mean", stored: &rates.CurrentRate{SellPrice: d("37")}, price: "18.5", want: false},
		{name: "sell only full price", stored: &rates.CurrentRate{SellPrice: d("37")}, price: "37", want: true},
		{name: "zero reference", stored: &rates.CurrentRate{}, price: "36", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := NewDetector(&stubFinder{rate: tt.stored}, decimal.Zero, zerolog.Nop())
			got, err := det.HasChanged(context.Background(), "BCV", "USD/VES", d(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasChangedFailsOpen(t *testing.T) {
	boom := rates.Persistence("find_current", errors.New("connection refused"))
	finder := &stubFinder{err: boom}
	det := NewDetector(finder, d("0.01"), zerolog.Nop())

	changed, err := det.HasChanged(context.Background(), "BCV", "USD/VES", d("36"))
	assert.True(t, changed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, finder.calls)
	assert.True(t, det.Tolerance().Equal(d("0.01")))
}

func TestDiffers(t *testing.T) {
	assert.True(t, Differs(d("1"), decimal.Zero, DefaultTolerance))
	assert.False(t, Differs(d("50"), d("50.004"), d("0.001")))
	assert.True(t, Differs(d("40"), d("50"), d("0.1")))
}
