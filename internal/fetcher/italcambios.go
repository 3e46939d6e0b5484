package fetcher

import (
	"bytes"
	"context"
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

// SourceItalcambios tags rows scraped from the Italcambio board.
const SourceItalcambios = "italcambios_web_scraping"

var (
	compraPattern = regexp.MustCompile(`Compra:\s*(\d+[.,]\d+)`)
	ventaPattern  = regexp.MustCompile(`Venta:\s*(\d+[.,]\d+)`)
)

// Structural path of the exchange-house board.
const (
	markerContainer = "div.container-fluid.compra"
	markerTrack     = "div.slide-track"
	markerRow       = "div.row.mb-15"
	markerColumn    = "div.col-8.pl-0"
	markerLabel     = "p.small:USD"
	markerFigures   = "p.small:Compra/Venta"
)

// ItalcambiosOptions parameterise the fiat-house scraper.
type ItalcambiosOptions struct {
	HTTPOptions
	URL string
}

// Italcambios scrapes the USD board of the Italcambio exchange house.
type Italcambios struct {
	opts   ItalcambiosOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewItalcambios constructs the fiat-house scraper.
func NewItalcambios(opts ItalcambiosOptions, logger zerolog.Logger) *Italcambios {
	if opts.URL == "" {
		opts.URL = "https://www.italcambio.com/"
	}
	return &Italcambios{
		opts:   opts,
		client: newClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "italcambios_fetcher").Logger(),
	}
}

// Name returns the exchange code served by this source.
func (it *Italcambios) Name() string { return rates.ExchangeItalcambios }

// Fetch downloads the board and walks its fixed structural path.
func (it *Italcambios) Fetch(ctx context.Context) (Payload, error) {
	resp, err := it.client.R().SetContext(ctx).Get(it.opts.URL)
	if err != nil {
		return nil, &rates.FetchError{Source: SourceItalcambios, Err: err}
	}
	if resp.IsError() {
		return nil, &rates.FetchError{Source: SourceItalcambios, Status: resp.StatusCode(), Err: fmt.Errorf("GET %s", it.opts.URL)}
	}

	quote, err := it.parse(resp.Body())
	if err != nil {
		return nil, err
	}
	it.logger.Debug().Str("buy", quote.Buy.String()).Str("sell", quote.Sell.String()).Msg("board scraped")
	return quote, nil
}

func (it *Italcambios) parse(body []byte) (FiatHouseQuote, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return FiatHouseQuote{}, &rates.ScrapeStructureError{Source: SourceItalcambios, Marker: "html"}
	}

	container := doc.Find(markerContainer).First()
	if container.Length() == 0 {
		return FiatHouseQuote{}, missing(markerContainer)
	}
	track := container.Find(markerTrack).First()
	if track.Length() == 0 {
		return FiatHouseQuote{}, missing(markerTrack)
	}
	row := track.Find(markerRow).First()
	if row.Length() == 0 {
		return FiatHouseQuote{}, missing(markerRow)
	}
	column := row.Find(markerColumn).First()
	if column.Length() == 0 {
		return FiatHouseQuote{}, missing(markerColumn)
	}
	label := column.Find("p.small").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "USD")
	})
	if label.Length() == 0 {
		return FiatHouseQuote{}, missing(markerLabel)
	}

	figures := track.Find("p.small").FilterFunction(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		return strings.Contains(text, "Compra") && strings.Contains(text, "Venta")
	}).First()
	if figures.Length() == 0 {
		return FiatHouseQuote{}, missing(markerFigures)
	}

	text := figures.Text()
	buy, ok := matchFigure(compraPattern, text)
	if !ok {
		return FiatHouseQuote{}, missing("Compra:")
	}
	sell, ok := matchFigure(ventaPattern, text)
	if !ok {
		return FiatHouseQuote{}, missing("Venta:")
	}

	band := it.opts.band()
	if err := band.Check(SourceItalcambios, rates.PairUSDVES, buy); err != nil {
		return FiatHouseQuote{}, err
	}
	if err := band.Check(SourceItalcambios, rates.PairUSDVES, sell); err != nil {
		return FiatHouseQuote{}, err
	}

	return FiatHouseQuote{
		Source:    SourceItalcambios,
		Asset:     "USD",
		Buy:       buy,
		Sell:      sell,
		Avg:       rates.Mean(buy, sell),
		FetchedAt: time.Now().UTC(),
	}, nil
}

func matchFigure(pattern *regexp.Regexp, text string) (decimal.Decimal, bool) {
	match := pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return decimal.Decimal{}, false
	}
	return parseDecimalString(match[1])
}

func missing(marker string) error {
	return &rates.ScrapeStructureError{Source: SourceItalcambios, Marker: marker}
}

var _ Source = (*Italcambios)(nil)
