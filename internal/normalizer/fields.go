package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vesrates/internal/fetcher"
	"vesrates/internal/rates"
)

// Assets tried by the generic scan, in order.
var genericAssets = []string{"USD", "EUR", "USDT", "USDC", "BTC", "ETH", "BNB", "DAI", "COP", "BRL", "CNY"}

var cryptoAssets = map[string]bool{
	"USDT": true, "USDC": true, "BTC": true, "ETH": true, "BNB": true, "DAI": true,
}

type suffixPair struct {
	buy  string
	sell string
	avg  string
}

// Suffix combinations of the generic scan, in order.
var genericSuffixes = []suffixPair{
	{buy: "compra", sell: "venta", avg: "promedio"},
	{buy: "buy", sell: "sell", avg: "avg"},
	{buy: "bid", sell: "ask", avg: "avg"},
}

// fields is a case-insensitive view over a FieldSet.
type fields map[string]any

func fieldsOf(p fetcher.Payload) (fields, bool) {
	fs, ok := p.(fetcher.FieldSet)
	if !ok {
		return nil, false
	}
	out := make(fields, len(fs))
	for k, v := range fs {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out, true
}

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return strings.TrimSpace(s)
}

// nested returns the sub-document at key, or nil.
func (f fields) nested(key string) fields {
	m, ok := f[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(fields, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// number reads key as a decimal. Missing and non-numeric values are
// reported separately so callers can word the failure.
func (f fields) number(key string) (decimal.Decimal, bool, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return decimal.Decimal{}, false, nil
	}
	value, err := toDecimal(raw)
	if err != nil {
		return decimal.Decimal{}, true, fmt.Errorf("field %s: %w", key, err)
	}
	return value, true, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case string:
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", "."))
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func (n *Normalizer) feedSource(exchange string, f fields) string {
	if s := f.str("source"); s != "" {
		return s
	}
	return strings.ToLower(exchange) + "_feed"
}

// checked reads key and validates it against the band.
func (n *Normalizer) checked(exchange, pair string, f fields, key string) (decimal.Decimal, bool, error) {
	value, present, err := f.number(key)
	if !present {
		return value, false, nil
	}
	if err != nil {
		return value, true, &rates.NormalizationError{Exchange: exchange, Reason: err.Error()}
	}
	if err := n.band.Check(n.feedSource(exchange, f), pair, value); err != nil {
		return value, true, err
	}
	return value, true, nil
}

func (n *Normalizer) fieldsOfficial(exchange string, p fetcher.Payload) (Normalized, bool) {
	f, ok := fieldsOf(p)
	if !ok || !(f.has("usd_ves") || f.has("eur_ves")) {
		return Normalized{}, false
	}

	var out Normalized
	for _, asset := range []string{"USD", "EUR"} {
		key := strings.ToLower(asset) + "_ves"
		pair := rates.PairFor(asset)
		value, present, err := n.checked(exchange, pair, f, key)
		if !present {
			continue
		}
		if err != nil {
			out.Partial = append(out.Partial, err)
			continue
		}
		out.Candidates = append(out.Candidates, rates.Candidate{
			ExchangeCode: exchange,
			CurrencyPair: pair,
			BuyPrice:     value,
			SellPrice:    value,
			AvgPrice:     value,
			Source:       n.feedSource(exchange, f),
			APIMethod:    rates.MethodOfficialAPI,
			TradeType:    rates.TradeOfficial,
		})
	}
	return out, true
}

func (n *Normalizer) fieldsP2PComplete(exchange string, p fetcher.Payload) (Normalized, bool) {
	f, ok := fieldsOf(p)
	if !ok {
		return Normalized{}, false
	}
	buySide, sellSide := f.nested("buy_usdt"), f.nested("sell_usdt")
	if buySide == nil || sellSide == nil || !buySide.has("price") || !sellSide.has("price") {
		return Normalized{}, false
	}

	pair := rates.PairUSDTVES
	buy, _, buyErr := n.checked(exchange, pair, buySide, "price")
	sell, _, sellErr := n.checked(exchange, pair, sellSide, "price")
	if buyErr != nil || sellErr != nil {
		return Normalized{Partial: nonNil(buyErr, sellErr)}, true
	}

	candidate := rates.Candidate{
		ExchangeCode: exchange,
		CurrencyPair: pair,
		BuyPrice:     buy,
		SellPrice:    sell,
		AvgPrice:     rates.Mean(buy, sell),
		Source:       n.feedSource(exchange, f),
		APIMethod:    rates.MethodOfficialAPI,
		TradeType:    rates.TradeP2P,
	}
	if market := f.nested("market_analysis"); market != nil {
		if volume, present, err := market.number("volume_24h"); present && err == nil {
			candidate.Volume24h = &volume
		}
	}
	return Normalized{Candidates: []rates.Candidate{candidate}}, true
}

func (n *Normalizer) fieldsFiatHouse(exchange string, p fetcher.Payload) (Normalized, bool) {
	f, ok := fieldsOf(p)
	if !ok || !f.has("usd_ves_compra") || !f.has("usd_ves_venta") {
		return Normalized{}, false
	}
	candidate, err := n.pairFromFields(exchange, "USD", f, genericSuffixes[0], rates.TradeFiat)
	if err != nil {
		return Normalized{Partial: []error{err}}, true
	}
	candidate.APIMethod = rates.MethodWebScraping
	return Normalized{Candidates: []rates.Candidate{candidate}}, true
}

// fieldsGeneric scans every known asset for conventionally named buy/sell
// fields. Each asset stands alone: a broken pair is recorded and the scan
// continues.
func (n *Normalizer) fieldsGeneric(exchange string, p fetcher.Payload) (Normalized, bool) {
	f, ok := fieldsOf(p)
	if !ok {
		return Normalized{}, false
	}

	var out Normalized
	matched := false
	for _, asset := range genericAssets {
		prefix := strings.ToLower(asset) + "_ves_"
		for _, sfx := range genericSuffixes {
			if !f.has(prefix+sfx.buy) && !f.has(prefix+sfx.sell) {
				continue
			}
			matched = true
			tradeType := rates.TradeFiat
			if cryptoAssets[asset] {
				tradeType = rates.TradeP2P
			}
			candidate, err := n.pairFromFields(exchange, asset, f, sfx, tradeType)
			if err != nil {
				out.Partial = append(out.Partial, err)
			} else {
				out.Candidates = append(out.Candidates, candidate)
			}
			break
		}
	}
	return out, matched
}

// pairFromFields builds one candidate from {asset}_ves_{buy|sell|avg}.
func (n *Normalizer) pairFromFields(exchange, asset string, f fields, sfx suffixPair, tradeType rates.TradeType) (rates.Candidate, error) {
	prefix := strings.ToLower(asset) + "_ves_"
	pair := rates.PairFor(asset)

	buy, buyOK, err := n.checked(exchange, pair, f, prefix+sfx.buy)
	if err != nil {
		return rates.Candidate{}, err
	}
	sell, sellOK, err := n.checked(exchange, pair, f, prefix+sfx.sell)
	if err != nil {
		return rates.Candidate{}, err
	}
	if !buyOK || !sellOK {
		return rates.Candidate{}, &rates.NormalizationError{
			Exchange: exchange,
			Reason:   fmt.Sprintf("%s: need both %s%s and %s%s", pair, prefix, sfx.buy, prefix, sfx.sell),
		}
	}

	avg := rates.Mean(buy, sell)
	if supplied, present, err := f.number(prefix + sfx.avg); present && err == nil && supplied.Sign() > 0 {
		avg = supplied
	}

	if t := f.str("trade_type"); t != "" {
		tradeType = rates.TradeType(strings.ToLower(t))
	}

	return rates.Candidate{
		ExchangeCode: exchange,
		CurrencyPair: pair,
		BuyPrice:     buy,
		SellPrice:    sell,
		AvgPrice:     avg,
		Source:       n.feedSource(exchange, f),
		APIMethod:    rates.MethodOfficialAPI,
		TradeType:    tradeType,
	}, nil
}

func nonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
