package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
)

// Normalized is the outcome of mapping one payload. Partial lists pairs
// that failed while others in the same payload succeeded.
type Normalized struct {
	Shape      string
	Candidates []rates.Candidate
	Partial    []error
	Market     *fetcher.MarketAnalysis
}

// shape tries to map a payload; ok is false when the payload does not have
// this shape and the next entry of the table should be tried.
type shape struct {
	name  string
	apply func(n *Normalizer, exchange string, p fetcher.Payload) (Normalized, bool)
}

// Normalizer maps raw payloads onto candidate records.
type Normalizer struct {
	band   rates.Band
	shapes []shape
	logger zerolog.Logger
}

// New builds a Normalizer validating field-set values against band.
func New(band rates.Band, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		band:   band,
		shapes: dispatchTable(),
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// dispatchTable lists shapes in priority order. Typed payloads come first,
// then known field-set layouts, then the generic scan.
func dispatchTable() []shape {
	return []shape{
		{name: "official_quote", apply: (*Normalizer).officialQuote},
		{name: "p2p_quote", apply: (*Normalizer).p2pQuote},
		{name: "fiat_house_quote", apply: (*Normalizer).fiatHouseQuote},
		{name: "fields_official", apply: (*Normalizer).fieldsOfficial},
		{name: "fields_p2p_complete", apply: (*Normalizer).fieldsP2PComplete},
		{name: "fields_fiat_house", apply: (*Normalizer).fieldsFiatHouse},
		{name: "fields_generic", apply: (*Normalizer).fieldsGeneric},
	}
}

// Normalize converts payload into candidates for exchange. It returns an
// error only when no candidate could be produced.
func (n *Normalizer) Normalize(exchange string, payload fetcher.Payload) (Normalized, error) {
	exchange = rates.CanonicalExchange(exchange)
	if payload == nil {
		return Normalized{}, &rates.NormalizationError{Exchange: exchange, Reason: "empty payload"}
	}

	for _, s := range n.shapes {
		out, ok := s.apply(n, exchange, payload)
		if !ok {
			continue
		}
		out.Shape = s.name
		if len(out.Candidates) == 0 {
			if len(out.Partial) > 0 {
				return out, errors.Join(out.Partial...)
			}
			return out, &rates.NormalizationError{Exchange: exchange, Reason: fmt.Sprintf("shape %s produced no pairs", s.name)}
		}
		n.logger.Debug().
			Str("exchange", exchange).
			Str("shape", s.name).
			Int("candidates", len(out.Candidates)).
			Int("partial", len(out.Partial)).
			Msg("payload normalized")
		return out, nil
	}

	return Normalized{}, &rates.NormalizationError{Exchange: exchange, Reason: "no known or generic shape matched"}
}

func (n *Normalizer) officialQuote(exchange string, p fetcher.Payload) (Normalized, bool) {
	q, ok := p.(fetcher.OfficialQuote)
	if !ok {
		return Normalized{}, false
	}
	out := Normalized{Partial: append([]error(nil), q.Failures...)}
	for _, code := range sortedKeys(q.Rates) {
		value := q.Rates[code]
		out.Candidates = append(out.Candidates, rates.Candidate{
			ExchangeCode: exchange,
			CurrencyPair: rates.PairFor(code),
			BuyPrice:     value,
			SellPrice:    value,
			AvgPrice:     value,
			Source:       sourceOr(q.Source, exchange),
			APIMethod:    rates.MethodWebScraping,
			TradeType:    rates.TradeOfficial,
		})
	}
	return out, true
}

func (n *Normalizer) p2pQuote(exchange string, p fetcher.Payload) (Normalized, bool) {
	q, ok := p.(fetcher.P2PQuote)
	if !ok {
		return Normalized{}, false
	}
	volume := q.Analysis.Volume24h
	analysis := q.Analysis
	return Normalized{
		Candidates: []rates.Candidate{{
			ExchangeCode: exchange,
			CurrencyPair: rates.PairFor(q.Asset),
			BuyPrice:     q.Buy.Price,
			SellPrice:    q.Sell.Price,
			AvgPrice:     rates.Mean(q.Buy.Price, q.Sell.Price),
			Volume24h:    &volume,
			Source:       sourceOr(q.Source, exchange),
			APIMethod:    rates.MethodOfficialAPI,
			TradeType:    rates.TradeP2P,
		}},
		Market: &analysis,
	}, true
}

func (n *Normalizer) fiatHouseQuote(exchange string, p fetcher.Payload) (Normalized, bool) {
	q, ok := p.(fetcher.FiatHouseQuote)
	if !ok {
		return Normalized{}, false
	}
	avg := q.Avg
	if avg.IsZero() {
		avg = rates.Mean(q.Buy, q.Sell)
	}
	return Normalized{
		Candidates: []rates.Candidate{{
			ExchangeCode: exchange,
			CurrencyPair: rates.PairFor(q.Asset),
			BuyPrice:     q.Buy,
			SellPrice:    q.Sell,
			AvgPrice:     avg,
			Source:       sourceOr(q.Source, exchange),
			APIMethod:    rates.MethodWebScraping,
			TradeType:    rates.TradeFiat,
		}},
	}, true
}

func sourceOr(source, exchange string) string {
	if source != "" {
		return source
	}
	return strings.ToLower(exchange)
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
