package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/rates"
)

func TestJSONFeedKeepsNumbers(t *testing.T) {
	srv := htmlServer(t, http.StatusOK, `{"eth_ves_compra": 100, "eth_ves_venta": "110.5", "source": "feed"}`)

	feed := NewJSONFeed(JSONFeedOptions{HTTPOptions: HTTPOptions{Timeout: time.Second}, Code: "yadio", URL: srv.URL}, noopLogger())
	assert.Equal(t, "YADIO", feed.Name())

	payload, err := feed.Fetch(context.Background())
	require.NoError(t, err)

	fields, ok := payload.(FieldSet)
	require.True(t, ok)
	assert.Equal(t, json.Number("100"), fields["eth_ves_compra"])
	assert.Equal(t, "110.5", fields["eth_ves_venta"])
}

func TestJSONFeedInvalidDocument(t *testing.T) {
	srv := htmlServer(t, http.StatusOK, `<html>`)

	feed := NewJSONFeed(JSONFeedOptions{Code: "x", URL: srv.URL}, noopLogger())
	_, err := feed.Fetch(context.Background())
	assert.Equal(t, rates.KindFetch, rates.KindOf(err))
}
