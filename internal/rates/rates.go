package rates

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical exchange codes known at startup.
const (
	ExchangeBCV         = "BCV"
	ExchangeBinanceP2P  = "BINANCE_P2P"
	ExchangeItalcambios = "ITALCAMBIOS"
)

// Canonical currency pairs.
const (
	PairUSDVES  = "USD/VES"
	PairEURVES  = "EUR/VES"
	PairUSDTVES = "USDT/VES"
)

// QuoteCurrency is the local currency every pair is quoted in.
const QuoteCurrency = "VES"

// AvgPlaces is the rounding applied to averages and variations.
const AvgPlaces int32 = 4

// Category classifies an exchange.
type Category string

const (
	CategoryFiat   Category = "fiat"
	CategoryCrypto Category = "crypto"
	CategoryP2P    Category = "p2p"
)

// MarketStatus flags whether a current row is served.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketInactive MarketStatus = "inactive"
)

// APIMethod records how a quotation was obtained.
type APIMethod string

const (
	MethodWebScraping APIMethod = "web_scraping"
	MethodOfficialAPI APIMethod = "official_api"
)

// TradeType is a free-form tag stored with every history entry.
type TradeType string

const (
	TradeOfficial TradeType = "official"
	TradeP2P      TradeType = "p2p"
	TradeFiat     TradeType = "fiat"
	TradeBuyUSDT  TradeType = "buy_usdt"
	TradeSellUSDT TradeType = "sell_usdt"
)

// CurrentRate is the latest known quotation for one exchange and pair.
type CurrentRate struct {
	ExchangeCode string
	CurrencyPair string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	AvgPrice     decimal.Decimal
	Variation24h decimal.Decimal
	Volume24h    *decimal.Decimal
	Source       string
	MarketStatus MarketStatus
	LastUpdate   time.Time
}

// HistoryEntry is one append-only observation.
type HistoryEntry struct {
	ID           int64
	ExchangeCode string
	CurrencyPair string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	AvgPrice     decimal.Decimal
	Volume24h    *decimal.Decimal
	Source       string
	APIMethod    APIMethod
	TradeType    TradeType
	Timestamp    time.Time
}

// Candidate is a normalized quotation waiting to be reconciled.
type Candidate struct {
	ExchangeCode string
	CurrencyPair string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	AvgPrice     decimal.Decimal
	Volume24h    *decimal.Decimal
	Source       string
	APIMethod    APIMethod
	TradeType    TradeType
}

// Current converts the candidate into a current row with the given variation.
func (c Candidate) Current(variation decimal.Decimal) CurrentRate {
	return CurrentRate{
		ExchangeCode: CanonicalExchange(c.ExchangeCode),
		CurrencyPair: CanonicalPair(c.CurrencyPair),
		BuyPrice:     c.BuyPrice,
		SellPrice:    c.SellPrice,
		AvgPrice:     c.AvgPrice,
		Variation24h: variation,
		Volume24h:    c.Volume24h,
		Source:       c.Source,
		MarketStatus: MarketActive,
	}
}

// History converts the candidate into a history entry.
func (c Candidate) History() HistoryEntry {
	return HistoryEntry{
		ExchangeCode: CanonicalExchange(c.ExchangeCode),
		CurrencyPair: CanonicalPair(c.CurrencyPair),
		BuyPrice:     c.BuyPrice,
		SellPrice:    c.SellPrice,
		AvgPrice:     c.AvgPrice,
		Volume24h:    c.Volume24h,
		Source:       c.Source,
		APIMethod:    c.APIMethod,
		TradeType:    c.TradeType,
	}
}

// ExchangeConfig describes one registered exchange.
type ExchangeConfig struct {
	Code            string        `json:"code" mapstructure:"code"`
	Name            string        `json:"name" mapstructure:"name"`
	Category        Category      `json:"category" mapstructure:"category"`
	Description     string        `json:"description" mapstructure:"description"`
	Active          bool          `json:"active" mapstructure:"active"`
	RefreshInterval time.Duration `json:"refresh_interval" mapstructure:"refresh_interval"`
}

// CanonicalExchange upper-cases and trims an exchange code.
func CanonicalExchange(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CanonicalPair normalizes a pair into upper-case BASE/QUOTE form.
// "usd_ves", "usd-ves" and " Usd/Ves " all become "USD/VES".
func CanonicalPair(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.NewReplacer("_", "/", "-", "/", " ", "").Replace(p)
	return p
}

// PairFor builds the canonical pair for an asset quoted in VES.
func PairFor(asset string) string {
	return CanonicalPair(asset + "/" + QuoteCurrency)
}

var two = decimal.NewFromInt(2)

// Mean returns the arithmetic mean of buy and sell rounded to AvgPlaces.
func Mean(buy, sell decimal.Decimal) decimal.Decimal {
	return buy.Add(sell).Div(two).Round(AvgPlaces)
}

// ReferencePrice picks the comparable price of a stored row: avg when
// nonzero, then mean(buy, sell), then buy, then sell.
func ReferencePrice(buy, sell, avg decimal.Decimal) decimal.Decimal {
	if !avg.IsZero() {
		return avg
	}
	if m := buy.Add(sell).Div(two); !m.IsZero() {
		return m
	}
	if !buy.IsZero() {
		return buy
	}
	return sell
}

// Variation computes the percentage change from previous to latest,
// rounded to AvgPlaces. A non-positive previous yields zero.
func Variation(latest, previous decimal.Decimal) decimal.Decimal {
	if previous.Sign() <= 0 {
		return decimal.Zero
	}
	return latest.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(AvgPlaces)
}
