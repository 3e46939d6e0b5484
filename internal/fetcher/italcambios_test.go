package fetcher

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/rates"
)

const italcambiosBoard = `<html><body>
<div class="container-fluid compra">
  <div class="slide-track">
    <div class="row mb-15">
      <div class="col-4"><img src="usa.png"></div>
      <div class="col-8 pl-0">
        <p class="small">USD</p>
        <p class="small">Compra: 36,1000 Venta: 37,2000</p>
      </div>
    </div>
    <div class="row mb-15">
      <div class="col-8 pl-0"><p class="small">EUR</p><p class="small">Compra: 39,0000 Venta: 40,0000</p></div>
    </div>
  </div>
</div>
</body></html>`

func newTestItalcambios(url string) *Italcambios {
	return NewItalcambios(ItalcambiosOptions{HTTPOptions: HTTPOptions{Timeout: time.Second}, URL: url}, noopLogger())
}

func TestItalcambiosBoard(t *testing.T) {
	srv := htmlServer(t, http.StatusOK, italcambiosBoard)

	payload, err := newTestItalcambios(srv.URL).Fetch(context.Background())
	require.NoError(t, err)

	quote, ok := payload.(FiatHouseQuote)
	require.True(t, ok)
	assert.Equal(t, "USD", quote.Asset)
	assert.Equal(t, "36.1", quote.Buy.String())
	assert.Equal(t, "37.2", quote.Sell.String())
	assert.Equal(t, "36.65", quote.Avg.String())
}

func TestItalcambiosMissingMarkers(t *testing.T) {
	cases := map[string]struct {
		page   string
		marker string
	}{
		"container": {`<div class="container-fluid venta"></div>`, markerContainer},
		"track":     {`<div class="container-fluid compra"><div class="slider"></div></div>`, markerTrack},
		"row":       {`<div class="container-fluid compra"><div class="slide-track"><div class="row"></div></div></div>`, markerRow},
		"column": {
			`<div class="container-fluid compra"><div class="slide-track"><div class="row mb-15"><div class="col-6"></div></div></div></div>`,
			markerColumn,
		},
		"label": {
			`<div class="container-fluid compra"><div class="slide-track"><div class="row mb-15"><div class="col-8 pl-0"><p class="small">EUR</p></div></div></div></div>`,
			markerLabel,
		},
		"figures": {
			`<div class="container-fluid compra"><div class="slide-track"><div class="row mb-15"><div class="col-8 pl-0"><p class="small">USD</p><p class="small">Compra: 36,10</p></div></div></div></div>`,
			markerFigures,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := htmlServer(t, http.StatusOK, tc.page)
			_, err := newTestItalcambios(srv.URL).Fetch(context.Background())

			var se *rates.ScrapeStructureError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.marker, se.Marker)
		})
	}
}

func TestItalcambiosOutOfRange(t *testing.T) {
	page := `<div class="container-fluid compra"><div class="slide-track"><div class="row mb-15"><div class="col-8 pl-0">
		<p class="small">USD</p><p class="small">Compra: 1500,00 Venta: 1510,00</p></div></div></div></div>`
	srv := htmlServer(t, http.StatusOK, page)

	payload, err := newTestItalcambios(srv.URL).Fetch(context.Background())
	assert.Nil(t, payload)

	var oe *rates.OutOfRangeError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "1500", oe.Value.String())
}

func TestItalcambiosHTTPError(t *testing.T) {
	srv := htmlServer(t, http.StatusNotFound, "")
	_, err := newTestItalcambios(srv.URL).Fetch(context.Background())
	assert.Equal(t, rates.KindFetch, rates.KindOf(err))
}
