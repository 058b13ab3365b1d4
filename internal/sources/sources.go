// Package sources fetches market rates from the upstream providers: the CBR
// daily XML feed for fiat currencies and the Binance ticker for crypto.
package sources

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns the client shared by all sources. Outbound requests
// are traced through otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
