package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/rates"
)

type fakeAd struct {
	price   string
	surplus string
	nick    string
}

func bookResponse(code string, ads ...fakeAd) map[string]any {
	data := make([]map[string]any, 0, len(ads))
	for _, ad := range ads {
		data = append(data, map[string]any{
			"adv": map[string]any{
				"price":                ad.price,
				"surplusAmount":        ad.surplus,
				"minSingleTransAmount": "500.00",
				"maxSingleTransAmount": "20000.00",
				"tradeMethods":         []map[string]string{{"identifier": "PagoMovil"}},
			},
			"advertiser": map[string]any{"nickName": ad.nick, "userType": "merchant"},
		})
	}
	return map[string]any{"code": code, "data": data}
}

func p2pServer(t *testing.T, pages map[string]map[string]any) (*httptest.Server, *[]advSearchRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []advSearchRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req advSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		page, ok := pages[req.TradeType]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestBinance(url string) *BinanceP2P {
	return NewBinanceP2P(BinanceOptions{
		HTTPOptions:   HTTPOptions{Timeout: time.Second},
		URL:           url,
		TransAmount:   500,
		PayTypes:      []string{"PagoMovil"},
		PublisherType: "merchant",
	}, noopLogger())
}

func TestBinanceCompleteQuote(t *testing.T) {
	srv, requests := p2pServer(t, map[string]map[string]any{
		"BUY":  bookResponse("000000", fakeAd{"37.00", "100", "a"}, fakeAd{"37.50", "50.5", "best-buy"}, fakeAd{"36.90", "10", "c"}),
		"SELL": bookResponse("000000", fakeAd{"36.40", "20", "x"}, fakeAd{"36.00", "30", "best-sell"}),
	})

	payload, err := newTestBinance(srv.URL).Fetch(context.Background())
	require.NoError(t, err)

	quote, ok := payload.(P2PQuote)
	require.True(t, ok)
	assert.Equal(t, "USDT", quote.Asset)
	assert.True(t, quote.Buy.Price.Equal(decimal.RequireFromString("37.50")), quote.Buy.Price.String())
	assert.True(t, quote.Sell.Price.Equal(decimal.RequireFromString("36.00")), quote.Sell.Price.String())
	assert.Equal(t, "best-buy", quote.Buy.BestAd.Merchant)
	assert.Equal(t, "best-sell", quote.Sell.BestAd.Merchant)
	assert.Equal(t, []string{"PagoMovil"}, quote.Buy.BestAd.PayTypes)
	assert.Equal(t, 3, quote.Buy.TotalAds)

	assert.Equal(t, "1.5", quote.Analysis.Spread.String())
	assert.Equal(t, "4.17", quote.Analysis.SpreadPercentage.String())
	assert.Equal(t, "medium", quote.Analysis.LiquidityScore)
	assert.Equal(t, "210.5", quote.Analysis.Volume24h.String())

	require.Len(t, *requests, 2)
	for _, req := range *requests {
		assert.Equal(t, "VES", req.Fiat)
		assert.Equal(t, "USDT", req.Asset)
		assert.Equal(t, 10, req.Rows)
		assert.Equal(t, []string{"PagoMovil"}, req.PayTypes)
	}
}

func TestBinanceBadCode(t *testing.T) {
	srv, _ := p2pServer(t, map[string]map[string]any{
		"BUY":  bookResponse("000002"),
		"SELL": bookResponse("000000", fakeAd{"36.00", "1", "x"}),
	})

	_, err := newTestBinance(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, rates.KindFetch, rates.KindOf(err))
}

func TestBinanceHTTPError(t *testing.T) {
	srv, _ := p2pServer(t, map[string]map[string]any{})

	_, err := newTestBinance(srv.URL).Fetch(context.Background())
	var fe *rates.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
}

func TestBinanceOutOfRange(t *testing.T) {
	srv, _ := p2pServer(t, map[string]map[string]any{
		"BUY":  bookResponse("000000", fakeAd{"1500", "1", "x"}),
		"SELL": bookResponse("000000", fakeAd{"36.00", "1", "y"}),
	})

	_, err := newTestBinance(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, rates.KindOutOfRange, rates.KindOf(err))
}

func TestAnalyzeLiquidity(t *testing.T) {
	d := decimal.RequireFromString
	high := Analyze(P2PSide{Price: d("101")}, P2PSide{Price: d("100")})
	assert.Equal(t, "high", high.LiquidityScore)
	assert.Equal(t, "1", high.SpreadPercentage.String())

	low := Analyze(P2PSide{Price: d("110")}, P2PSide{Price: d("100")})
	assert.Equal(t, "low", low.LiquidityScore)

	zero := Analyze(P2PSide{Price: d("10")}, P2PSide{})
	assert.True(t, zero.SpreadPercentage.IsZero())
}
