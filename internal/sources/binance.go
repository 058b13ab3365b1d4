package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// quoteAsset is the stablecoin every symbol is priced against.
const quoteAsset = "USDT"

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// BinanceClient fetches spot prices from the Binance ticker endpoint and
// converts them to roubles.
type BinanceClient struct {
	baseURL   string
	userAgent string
	platform  string
	symbols   []string
	cb        *gobreaker.CircuitBreaker
	httpDo    func(req *http.Request) (*http.Response, error)
}

// NewBinanceClient constructs a BinanceClient. An empty platform falls back to
// "Binance".
func NewBinanceClient(httpClient *http.Client, baseURL, userAgent, platform string, symbols []string,
	cb *gobreaker.CircuitBreaker) *BinanceClient {
	if platform == "" {
		platform = "Binance"
	}
	return &BinanceClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		platform:  platform,
		symbols:   symbols,
		cb:        cb,
		httpDo:    httpClient.Do,
	}
}

// Fetch prices every configured symbol as <SYM>USDT and multiplies by usdRub.
// A failing symbol is left out of the result; the joined error lists them all.
func (c *BinanceClient) Fetch(ctx context.Context, usdRub float64) (map[string]items.Quote, error) {
	out := make(map[string]items.Quote, len(c.symbols))
	var errs []error

	for _, sym := range c.symbols {
		pair := sym + quoteAsset
		res, err := c.cb.Execute(func() (any, error) {
			return c.price(ctx, pair)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("binance %s: %w", pair, err))
			continue
		}
		out[sym] = items.Quote{
			Currency: sym,
			Rate:     res.(float64) * usdRub,
			Amount:   1,
			Platform: c.platform,
		}
	}
	return out, errors.Join(errs...)
}

func (c *BinanceClient) price(ctx context.Context, pair string) (float64, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, fmt.Errorf("parsing Binance URL: %w", err)
	}
	q := u.Query()
	q.Set("symbol", pair)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpDo(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var tp tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&tp); err != nil {
		return 0, fmt.Errorf("decoding ticker: %w", err)
	}
	price, err := strconv.ParseFloat(tp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing price %q: %w", tp.Price, err)
	}
	return price, nil
}
