package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesrates/internal/rates"
)

// SourceBCV tags rows scraped from the central bank site.
const SourceBCV = "bcv_web_scraping"

type officialCurrency struct {
	code     string
	anchor   string
	patterns []*regexp.Regexp
}

var officialCurrencies = []officialCurrency{
	{
		code:   "USD",
		anchor: "div#dolar",
		patterns: compileAll(
			`(?i)USD[:\s]*(\d+[.,]\d+)`,
			`(?i)Dólar[:\s]*(\d+[.,]\d+)`,
			`(?i)DOLAR[:\s]*(\d+[.,]\d+)`,
			`(?i)(\d+[.,]\d+)[\s]*USD`,
			`(?i)(\d+[.,]\d+)[\s]*Dólar`,
		),
	},
	{
		code:   "EUR",
		anchor: "div#euro",
		patterns: compileAll(
			`(?i)EUR[:\s]*(\d+[.,]\d+)`,
			`(?i)Euro[:\s]*(\d+[.,]\d+)`,
			`(?i)(\d+[.,]\d+)[\s]*EUR`,
			`(?i)(\d+[.,]\d+)[\s]*Euro`,
		),
	},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// BCVOptions parameterise the official-rate scraper.
type BCVOptions struct {
	HTTPOptions
	URLs []string
}

// BCV scrapes official USD and EUR rates.
type BCV struct {
	opts   BCVOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewBCV constructs the official-rate scraper.
func NewBCV(opts BCVOptions, logger zerolog.Logger) *BCV {
	if len(opts.URLs) == 0 {
		opts.URLs = []string{"http://www.bcv.org.ve/", "https://www.bcv.org.ve/"}
	}
	return &BCV{
		opts:   opts,
		client: newClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "bcv_fetcher").Logger(),
	}
}

// Name returns the exchange code served by this source.
func (b *BCV) Name() string { return rates.ExchangeBCV }

// Fetch downloads the first reachable URL and extracts every currency.
// It fails only when no currency could be extracted.
func (b *BCV) Fetch(ctx context.Context) (Payload, error) {
	var fetchErrs []error
	for _, url := range b.opts.URLs {
		body, err := b.download(ctx, url)
		if err != nil {
			b.logger.Warn().Err(err).Str("url", url).Msg("bcv download failed")
			fetchErrs = append(fetchErrs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		quote, err := b.parse(body)
		if err != nil {
			return nil, err
		}
		quote.URL = url
		return quote, nil
	}
	return nil, errors.Join(fetchErrs...)
}

func (b *BCV) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Get(url)
	if err != nil {
		return nil, &rates.FetchError{Source: SourceBCV, Err: err}
	}
	if resp.IsError() {
		return nil, &rates.FetchError{Source: SourceBCV, Status: resp.StatusCode(), Err: fmt.Errorf("GET %s", url)}
	}
	return resp.Body(), nil
}

func (b *BCV) parse(body []byte) (OfficialQuote, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return OfficialQuote{}, &rates.ScrapeStructureError{Source: SourceBCV, Marker: "html"}
	}

	quote := OfficialQuote{Source: SourceBCV, Rates: make(map[string]decimal.Decimal, len(officialCurrencies)), FetchedAt: time.Now().UTC()}
	pageText := doc.Text()
	band := b.opts.band()

	for _, cur := range officialCurrencies {
		value, ok := extractAnchor(doc, cur.anchor)
		if !ok {
			value, ok = extractFallback(pageText, cur.patterns)
			if ok {
				b.logger.Debug().Str("currency", cur.code).Msg("anchor missing, used page fallback")
			}
		}
		if !ok {
			quote.Failures = append(quote.Failures, &rates.ScrapeStructureError{Source: SourceBCV, Marker: cur.anchor})
			continue
		}
		if err := band.Check(SourceBCV, rates.PairFor(cur.code), value); err != nil {
			quote.Failures = append(quote.Failures, err)
			continue
		}
		quote.Rates[cur.code] = value
	}

	if len(quote.Rates) == 0 {
		return OfficialQuote{}, errors.Join(quote.Failures...)
	}
	return quote, nil
}

func extractAnchor(doc *goquery.Document, anchor string) (decimal.Decimal, bool) {
	sel := doc.Find(anchor).First()
	if sel.Length() == 0 {
		return decimal.Decimal{}, false
	}
	return parseNumber(strings.TrimSpace(sel.Text()))
}

func extractFallback(text string, patterns []*regexp.Regexp) (decimal.Decimal, bool) {
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		if value, ok := parseDecimalString(match[1]); ok {
			return value, true
		}
	}
	return decimal.Decimal{}, false
}

var _ Source = (*BCV)(nil)
