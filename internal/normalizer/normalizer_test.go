package normalizer

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
)

func newTestNormalizer() *Normalizer {
	return New(rates.DefaultBand(), zerolog.Nop())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalizeOfficialQuote(t *testing.T) {
	n := newTestNormalizer()

	partial := &rates.ScrapeStructureError{Source: fetcher.SourceBCV, Marker: "div#euro"}
	out, err := n.Normalize("bcv", fetcher.OfficialQuote{
		Source:   fetcher.SourceBCV,
		Rates:    map[string]decimal.Decimal{"USD": dec("36.5"), "EUR": dec("39.75")},
		Failures: []error{partial},
	})
	require.NoError(t, err)

	assert.Equal(t, "official_quote", out.Shape)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, rates.PairEURVES, out.Candidates[0].CurrencyPair)
	assert.Equal(t, rates.PairUSDVES, out.Candidates[1].CurrencyPair)

	usd := out.Candidates[1]
	assert.Equal(t, rates.ExchangeBCV, usd.ExchangeCode)
	assert.True(t, usd.BuyPrice.Equal(dec("36.5")))
	assert.True(t, usd.SellPrice.Equal(usd.AvgPrice))
	assert.Equal(t, rates.TradeOfficial, usd.TradeType)
	assert.Equal(t, rates.MethodWebScraping, usd.APIMethod)
	assert.Equal(t, fetcher.SourceBCV, usd.Source)
	require.Len(t, out.Partial, 1)
	assert.Equal(t, rates.KindScrapeStructure, rates.KindOf(out.Partial[0]))
}

func TestNormalizeP2PQuote(t *testing.T) {
	n := newTestNormalizer()

	buy := fetcher.P2PSide{Price: dec("37.50"), Volume: dec("100")}
	sell := fetcher.P2PSide{Price: dec("36.00"), Volume: dec("110.5")}
	out, err := n.Normalize(rates.ExchangeBinanceP2P, fetcher.P2PQuote{
		Source:   fetcher.SourceBinanceP2P,
		Asset:    "USDT",
		Fiat:     "VES",
		Buy:      buy,
		Sell:     sell,
		Analysis: fetcher.Analyze(buy, sell),
	})
	require.NoError(t, err)

	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, rates.PairUSDTVES, c.CurrencyPair)
	assert.True(t, c.AvgPrice.Equal(dec("36.75")))
	require.NotNil(t, c.Volume24h)
	assert.True(t, c.Volume24h.Equal(dec("210.5")))
	assert.Equal(t, rates.TradeP2P, c.TradeType)
	assert.Equal(t, rates.MethodOfficialAPI, c.APIMethod)
	require.NotNil(t, out.Market)
	assert.Equal(t, "medium", out.Market.LiquidityScore)
}

func TestNormalizeFiatHouseQuote(t *testing.T) {
	n := newTestNormalizer()

	out, err := n.Normalize(rates.ExchangeItalcambios, fetcher.FiatHouseQuote{
		Asset: "USD",
		Buy:   dec("36.10"),
		Sell:  dec("36.90"),
	})
	require.NoError(t, err)

	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, rates.PairUSDVES, c.CurrencyPair)
	assert.True(t, c.AvgPrice.Equal(dec("36.5")))
	assert.Equal(t, rates.TradeFiat, c.TradeType)
	assert.Equal(t, "italcambios", c.Source)
}

func TestNormalizeGenericFallback(t *testing.T) {
	n := newTestNormalizer()

	out, err := n.Normalize("NEWHOUSE", fetcher.FieldSet{"eth_ves_compra": 100, "eth_ves_venta": 110})
	require.NoError(t, err)

	assert.Equal(t, "fields_generic", out.Shape)
	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, "ETH/VES", c.CurrencyPair)
	assert.Equal(t, "NEWHOUSE", c.ExchangeCode)
	assert.True(t, c.BuyPrice.Equal(dec("100")))
	assert.True(t, c.SellPrice.Equal(dec("110")))
	assert.True(t, c.AvgPrice.Equal(dec("105")))
	assert.Equal(t, rates.TradeP2P, c.TradeType)
	assert.Equal(t, "newhouse_feed", c.Source)
	assert.Empty(t, out.Partial)
}

func TestNormalizeFieldSets(t *testing.T) {
	tests := []struct {
		name      string
		payload   fetcher.FieldSet
		shape     string
		pairs     []string
		avg       string
		trade     rates.TradeType
		partial   int
		wantVol   bool
		wantError rates.ErrorKind
	}{
		{
			name:    "official",
			payload: fetcher.FieldSet{"usd_ves": json.Number("36.5"), "eur_ves": "39,8"},
			shape:   "fields_official",
			pairs:   []string{rates.PairUSDVES, rates.PairEURVES},
			avg:     "36.5",
			trade:   rates.TradeOfficial,
		},
		{
			name: "p2p complete",
			payload: fetcher.FieldSet{
				"buy_usdt":        map[string]any{"price": 38.0},
				"sell_usdt":       map[string]any{"price": 37.0},
				"market_analysis": map[string]any{"volume_24h": json.Number("1200.5")},
			},
			shape:   "fields_p2p_complete",
			pairs:   []string{rates.PairUSDTVES},
			avg:     "37.5",
			trade:   rates.TradeP2P,
			wantVol: true,
		},
		{
			name:    "fiat house with promedio",
			payload: fetcher.FieldSet{"USD_VES_Compra": "36.00", "usd_ves_venta": "37.00", "usd_ves_promedio": "36.40"},
			shape:   "fields_fiat_house",
			pairs:   []string{rates.PairUSDVES},
			avg:     "36.40",
			trade:   rates.TradeFiat,
		},
		{
			name:    "generic bid ask",
			payload: fetcher.FieldSet{"cop_ves_bid": 0.5, "cop_ves_ask": 0.7, "source": "cop_board"},
			shape:   "fields_generic",
			pairs:   []string{"COP/VES"},
			avg:     "0.6",
			trade:   rates.TradeFiat,
		},
		{
			name:    "generic one pair broken",
			payload: fetcher.FieldSet{"usdc_ves_buy": 37, "usdc_ves_sell": 38, "btc_ves_buy": 50},
			shape:   "fields_generic",
			pairs:   []string{"USDC/VES"},
			avg:     "37.5",
			trade:   rates.TradeP2P,
			partial: 1,
		},
		{
			name:      "generic only broken pairs",
			payload:   fetcher.FieldSet{"eur_ves_compra": 1500, "eur_ves_venta": 1510},
			shape:     "fields_generic",
			wantError: rates.KindOutOfRange,
		},
		{
			name:      "official non numeric",
			payload:   fetcher.FieldSet{"usd_ves": "n/a"},
			shape:     "fields_official",
			wantError: rates.KindNormalization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer()
			out, err := n.Normalize("feed", tt.payload)
			assert.Equal(t, tt.shape, out.Shape)

			if tt.wantError != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantError, rates.KindOf(err))
				assert.Empty(t, out.Candidates)
				return
			}
			require.NoError(t, err)

			got := make([]string, 0, len(out.Candidates))
			for _, c := range out.Candidates {
				got = append(got, c.CurrencyPair)
				assert.Equal(t, tt.trade, c.TradeType)
			}
			assert.Equal(t, tt.pairs, got)
			assert.True(t, out.Candidates[0].AvgPrice.Equal(dec(tt.avg)), "avg %s", out.Candidates[0].AvgPrice)
			assert.Len(t, out.Partial, tt.partial)
			assert.Equal(t, tt.wantVol, out.Candidates[0].Volume24h != nil)
		})
	}
}

func TestNormalizeUnknownShape(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize("feed", fetcher.FieldSet{"price": 10, "pair": "XYZ"})
	require.Error(t, err)
	assert.Equal(t, rates.KindNormalization, rates.KindOf(err))

	_, err = n.Normalize("feed", nil)
	assert.Equal(t, rates.KindNormalization, rates.KindOf(err))
}

func TestGenericSourceFieldWins(t *testing.T) {
	n := newTestNormalizer()

	out, err := n.Normalize("feed", fetcher.FieldSet{"usd_ves_buy": 36, "usd_ves_sell": 37, "source": "partner_api", "trade_type": "OTC"})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "partner_api", out.Candidates[0].Source)
	assert.Equal(t, rates.TradeType("otc"), out.Candidates[0].TradeType)
}
