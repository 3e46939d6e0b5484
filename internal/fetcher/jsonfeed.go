package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"vesrates/internal/rates"
)

// JSONFeedOptions parameterise a configured flat JSON endpoint.
type JSONFeedOptions struct {
	HTTPOptions
	Code string
	URL  string
}

// JSONFeed serves an exchange whose upstream publishes a flat JSON object.
// Field names are left for the normalizer to recognise.
type JSONFeed struct {
	opts   JSONFeedOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewJSONFeed constructs a feed source.
func NewJSONFeed(opts JSONFeedOptions, logger zerolog.Logger) *JSONFeed {
	opts.Code = rates.CanonicalExchange(opts.Code)
	return &JSONFeed{
		opts:   opts,
		client: newClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "feed_fetcher").Str("exchange", opts.Code).Logger(),
	}
}

// Name returns the configured exchange code.
func (f *JSONFeed) Name() string { return f.opts.Code }

// Fetch downloads the document. Numbers are kept as json.Number.
func (f *JSONFeed) Fetch(ctx context.Context) (Payload, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(f.opts.URL)
	if err != nil {
		return nil, &rates.FetchError{Source: f.opts.Code, Err: err}
	}
	if resp.IsError() {
		return nil, &rates.FetchError{Source: f.opts.Code, Status: resp.StatusCode(), Err: fmt.Errorf("GET %s", f.opts.URL)}
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &rates.FetchError{Source: f.opts.Code, Err: fmt.Errorf("decode feed: %w", err)}
	}
	f.logger.Debug().Int("fields", len(fields)).Msg("feed fetched")
	return FieldSet(fields), nil
}

var _ Source = (*JSONFeed)(nil)
