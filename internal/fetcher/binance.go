package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

// SourceBinanceP2P tags rows obtained from the P2P order-book API.
const SourceBinanceP2P = "binance_p2p_api"

const (
	binanceSuccessCode = "000000"
	tradeTypeBuy       = "BUY"
	tradeTypeSell      = "SELL"
)

// BinanceOptions parameterise the P2P order-book query.
type BinanceOptions struct {
	HTTPOptions
	URL           string
	Fiat          string
	Asset         string
	Rows          int
	TransAmount   float64
	PayTypes      []string
	PublisherType string
}

// BinanceP2P queries both directions of the P2P book and combines them.
type BinanceP2P struct {
	opts   BinanceOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewBinanceP2P constructs the P2P source.
func NewBinanceP2P(opts BinanceOptions, logger zerolog.Logger) *BinanceP2P {
	if opts.URL == "" {
		opts.URL = "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"
	}
	if opts.Fiat == "" {
		opts.Fiat = rates.QuoteCurrency
	}
	if opts.Asset == "" {
		opts.Asset = "USDT"
	}
	if opts.Rows <= 0 {
		opts.Rows = 10
	}
	return &BinanceP2P{
		opts:   opts,
		client: newClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "binance_fetcher").Logger(),
	}
}

// Name returns the exchange code served by this source.
func (b *BinanceP2P) Name() string { return rates.ExchangeBinanceP2P }

// Fetch queries the BUY page for the acquire price (highest ad) and the
// SELL page for the dispose price (lowest ad). The API's direction flag is
// expressed from the advertiser's side, hence the inversion.
func (b *BinanceP2P) Fetch(ctx context.Context) (Payload, error) {
	buy, err := b.side(ctx, tradeTypeBuy)
	if err != nil {
		return nil, err
	}
	sell, err := b.side(ctx, tradeTypeSell)
	if err != nil {
		return nil, err
	}

	pair := rates.PairFor(b.opts.Asset)
	band := b.opts.band()
	if err := band.Check(SourceBinanceP2P, pair, buy.Price); err != nil {
		return nil, err
	}
	if err := band.Check(SourceBinanceP2P, pair, sell.Price); err != nil {
		return nil, err
	}

	quote := P2PQuote{
		Source:    SourceBinanceP2P,
		Asset:     strings.ToUpper(b.opts.Asset),
		Fiat:      strings.ToUpper(b.opts.Fiat),
		Buy:       buy,
		Sell:      sell,
		Analysis:  Analyze(buy, sell),
		FetchedAt: time.Now().UTC(),
	}

	b.logger.Debug().
		Str("buy", buy.Price.String()).
		Str("sell", sell.Price.String()).
		Str("spread_pct", quote.Analysis.SpreadPercentage.String()).
		Msg("p2p book fetched")
	return quote, nil
}

// Analyze derives spread and liquidity from both sides of the book.
func Analyze(buy, sell P2PSide) MarketAnalysis {
	spread := buy.Price.Sub(sell.Price)
	pct := decimal.Zero
	if sell.Price.Sign() > 0 {
		pct = spread.Div(sell.Price).Mul(decimal.NewFromInt(100))
	}
	pct = pct.Round(2)

	return MarketAnalysis{
		Spread:           spread.Round(4),
		SpreadPercentage: pct,
		Volume24h:        buy.Volume.Add(sell.Volume).Round(2),
		LiquidityScore:   liquidityScore(pct),
	}
}

func liquidityScore(pct decimal.Decimal) string {
	switch {
	case pct.LessThan(decimal.NewFromInt(2)):
		return "high"
	case pct.LessThan(decimal.NewFromInt(5)):
		return "medium"
	default:
		return "low"
	}
}

func (b *BinanceP2P) side(ctx context.Context, tradeType string) (P2PSide, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(b.request(tradeType)).
		Post(b.opts.URL)
	if err != nil {
		return P2PSide{}, &rates.FetchError{Source: SourceBinanceP2P, Err: err}
	}
	if resp.IsError() {
		return P2PSide{}, &rates.FetchError{Source: SourceBinanceP2P, Status: resp.StatusCode(), Err: fmt.Errorf("%s page", tradeType)}
	}

	var book advSearchResponse
	if err := json.Unmarshal(resp.Body(), &book); err != nil {
		return P2PSide{}, &rates.FetchError{Source: SourceBinanceP2P, Err: fmt.Errorf("decode %s page: %w", tradeType, err)}
	}
	if book.Code != binanceSuccessCode || len(book.Data) == 0 {
		return P2PSide{}, &rates.FetchError{Source: SourceBinanceP2P, Err: fmt.Errorf("%s page: code %q with %d ads", tradeType, book.Code, len(book.Data))}
	}

	return summarize(book.Data, b.opts.Rows, tradeType == tradeTypeBuy)
}

// summarize picks the best ad (highest when pickHighest, else lowest) and
// aggregates the top rows.
func summarize(ads []advItem, top int, pickHighest bool) (P2PSide, error) {
	var (
		best    *advItem
		bestPx  decimal.Decimal
		sum     decimal.Decimal
		volume  decimal.Decimal
		counted int
	)
	for i := range ads {
		price, ok := parseDecimalString(ads[i].Adv.Price)
		if !ok || price.Sign() <= 0 {
			continue
		}
		if best == nil || (pickHighest && price.GreaterThan(bestPx)) || (!pickHighest && price.LessThan(bestPx)) {
			best = &ads[i]
			bestPx = price
		}
		if counted < top {
			sum = sum.Add(price)
			if surplus, ok := parseDecimalString(ads[i].Adv.SurplusAmount); ok {
				volume = volume.Add(surplus)
			}
			counted++
		}
	}
	if best == nil {
		return P2PSide{}, &rates.FetchError{Source: SourceBinanceP2P, Err: fmt.Errorf("no priced ads")}
	}

	avg := bestPx
	if counted > 0 {
		avg = sum.Div(decimal.NewFromInt(int64(counted))).Round(rates.AvgPlaces)
	}

	return P2PSide{
		Price:    bestPx,
		AvgPrice: avg,
		Volume:   volume.Round(2),
		TotalAds: len(ads),
		BestAd:   best.toAd(bestPx),
	}, nil
}

func (b *BinanceP2P) request(tradeType string) advSearchRequest {
	payTypes := b.opts.PayTypes
	if payTypes == nil {
		payTypes = []string{}
	}
	return advSearchRequest{
		Fiat:          strings.ToUpper(b.opts.Fiat),
		Page:          1,
		Rows:          b.opts.Rows,
		TransAmount:   b.opts.TransAmount,
		TradeType:     tradeType,
		Asset:         strings.ToUpper(b.opts.Asset),
		Countries:     []string{},
		FilterType:    "all",
		Periods:       []string{},
		PublisherType: b.opts.PublisherType,
		PayTypes:      payTypes,
		Classifies:    []string{"mass", "profession", "fiat_trade"},
	}
}

type advSearchRequest struct {
	Fiat                      string   `json:"fiat"`
	Page                      int      `json:"page"`
	Rows                      int      `json:"rows"`
	TransAmount               float64  `json:"transAmount,omitempty"`
	TradeType                 string   `json:"tradeType"`
	Asset                     string   `json:"asset"`
	Countries                 []string `json:"countries"`
	ProMerchantAds            bool     `json:"proMerchantAds"`
	ShieldMerchantAds         bool     `json:"shieldMerchantAds"`
	FilterType                string   `json:"filterType"`
	Periods                   []string `json:"periods"`
	AdditionalKycVerifyFilter int      `json:"additionalKycVerifyFilter"`
	PublisherType             string   `json:"publisherType,omitempty"`
	PayTypes                  []string `json:"payTypes"`
	Classifies                []string `json:"classifies"`
	TradedWith                bool     `json:"tradedWith"`
	Followed                  bool     `json:"followed"`
}

type advSearchResponse struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    []advItem `json:"data"`
}

type advItem struct {
	Adv struct {
		Price                string `json:"price"`
		SurplusAmount        string `json:"surplusAmount"`
		MinSingleTransAmount string `json:"minSingleTransAmount"`
		MaxSingleTransAmount string `json:"maxSingleTransAmount"`
		TradeMethods         []struct {
			Identifier string `json:"identifier"`
		} `json:"tradeMethods"`
	} `json:"adv"`
	Advertiser struct {
		NickName string `json:"nickName"`
		UserType string `json:"userType"`
	} `json:"advertiser"`
}

func (a advItem) toAd(price decimal.Decimal) Ad {
	minAmount, _ := parseDecimalString(a.Adv.MinSingleTransAmount)
	maxAmount, _ := parseDecimalString(a.Adv.MaxSingleTransAmount)
	payTypes := make([]string, 0, len(a.Adv.TradeMethods))
	for _, m := range a.Adv.TradeMethods {
		payTypes = append(payTypes, m.Identifier)
	}
	merchant := a.Advertiser.NickName
	if merchant == "" {
		merchant = "N/A"
	}
	return Ad{
		Price:     price,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		Merchant:  merchant,
		UserType:  a.Advertiser.UserType,
		PayTypes:  payTypes,
	}
}

var _ Source = (*BinanceP2P)(nil)
