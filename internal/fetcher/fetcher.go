package fetcher

import (
	"context"
	"crypto/tls"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

// Source retrieves one raw payload from one upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Payload, error)
}

// Payload is the closed set of raw shapes a Source may return.
type Payload interface {
	payload()
}

// OfficialQuote holds per-currency official rates. A currency that could
// not be extracted is listed in Failures instead of Rates.
type OfficialQuote struct {
	Source    string
	Rates     map[string]decimal.Decimal
	Failures  []error
	URL       string
	FetchedAt time.Time
}

// Ad summarises the best advertisement on one side of a P2P book.
type Ad struct {
	Price     decimal.Decimal `json:"price"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Merchant  string          `json:"merchant"`
	UserType  string          `json:"user_type"`
	PayTypes  []string        `json:"pay_types"`
}

// P2PSide is one direction of a P2P order book.
type P2PSide struct {
	Price    decimal.Decimal `json:"price"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Volume   decimal.Decimal `json:"volume"`
	TotalAds int             `json:"total_ads"`
	BestAd   Ad              `json:"best_ad"`
}

// MarketAnalysis describes the spread between both sides of a P2P book.
type MarketAnalysis struct {
	Spread           decimal.Decimal `json:"spread_internal"`
	SpreadPercentage decimal.Decimal `json:"spread_percentage"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	LiquidityScore   string          `json:"liquidity_score"`
}

// P2PQuote is a complete two-sided P2P quotation. Buy is the price paid to
// acquire the asset, Sell the price received when disposing of it.
type P2PQuote struct {
	Source    string
	Asset     string
	Fiat      string
	Buy       P2PSide
	Sell      P2PSide
	Analysis  MarketAnalysis
	FetchedAt time.Time
}

// FiatHouseQuote is a single buy/sell board quotation.
type FiatHouseQuote struct {
	Source    string
	Asset     string
	Buy       decimal.Decimal
	Sell      decimal.Decimal
	Avg       decimal.Decimal
	FetchedAt time.Time
}

// FieldSet is a flat, loosely named document such as a JSON feed.
type FieldSet map[string]any

func (OfficialQuote) payload()  {}
func (P2PQuote) payload()       {}
func (FiatHouseQuote) payload() {}
func (FieldSet) payload()       {}

// HTTPOptions are shared by every HTTP-backed source.
type HTTPOptions struct {
	Timeout            time.Duration
	UserAgent          string
	InsecureSkipVerify bool
	Band               rates.Band
}

const defaultTimeout = 30 * time.Second

func (o HTTPOptions) band() rates.Band {
	if o.Band.Max.IsZero() {
		return rates.DefaultBand()
	}
	return o.Band
}

func newClient(opts HTTPOptions) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	client.SetHeader("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	if opts.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // upstream serves a broken chain
	}
	return client
}

var numberPattern = regexp.MustCompile(`(\d+[.,]\d+)`)

// parseNumber converts the first decimal figure in text, accepting a comma
// as decimal separator.
func parseNumber(text string) (decimal.Decimal, bool) {
	match := numberPattern.FindString(strings.ReplaceAll(text, ",", "."))
	if match == "" {
		return decimal.Decimal{}, false
	}
	value, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

func parseDecimalString(s string) (decimal.Decimal, bool) {
	value, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}
