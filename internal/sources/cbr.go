package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/text/encoding/charmap"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// RUB is the base currency every rate is expressed in.
const RUB = "RUB"

// cbrDateLayout is the date_req format of the CBR daily feed.
const cbrDateLayout = "02/01/2006"

type valCurs struct {
	XMLName xml.Name `xml:"ValCurs"`
	Date    string   `xml:"Date,attr"`
	Valutes []valute `xml:"Valute"`
}

type valute struct {
	CharCode  string `xml:"CharCode"`
	Nominal   string `xml:"Nominal"`
	Value     string `xml:"Value"`
	VunitRate string `xml:"VunitRate"`
}

// ParseCBR decodes a CBR XML_daily document and returns one quote per allowed
// currency code. Entries with a missing code or an unparsable number are
// skipped. The rate is roubles per single unit: VunitRate when the feed has
// it, Value/Nominal otherwise.
func ParseCBR(doc []byte, allowed []string, platform string) (map[string]items.Quote, error) {
	want := make(map[string]struct{}, len(allowed))
	for _, code := range allowed {
		want[code] = struct{}{}
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = charsetReader

	var curs valCurs
	if err := dec.Decode(&curs); err != nil {
		return nil, fmt.Errorf("decoding CBR XML: %w", err)
	}

	out := make(map[string]items.Quote)
	for _, v := range curs.Valutes {
		code := strings.TrimSpace(v.CharCode)
		if code == "" {
			continue
		}
		if _, ok := want[code]; !ok {
			continue
		}

		nominal := 1
		if s := strings.TrimSpace(v.Nominal); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				continue
			}
			nominal = n
		}

		var rate float64
		if v.VunitRate != "" {
			r, err := parseDecimal(v.VunitRate)
			if err != nil {
				continue
			}
			rate = r
		} else {
			value, err := parseDecimal(v.Value)
			if err != nil {
				continue
			}
			rate = value / float64(nominal)
		}

		out[code] = items.Quote{Currency: code, Rate: rate, Amount: nominal, Platform: platform}
	}
	return out, nil
}

// parseDecimal reads numbers written with a comma decimal separator.
func parseDecimal(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return strconv.ParseFloat(s, 64)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

// CBRClient fetches the daily fiat rates of the Central Bank of Russia.
type CBRClient struct {
	baseURL    string
	userAgent  string
	platform   string
	currencies []string
	cb         *gobreaker.CircuitBreaker
	cache      Cache
	cacheTTL   time.Duration
	httpDo     func(req *http.Request) (*http.Response, error)
}

// NewCBRClient constructs a CBRClient. cache may be nil; a zero ttl disables
// caching as well.
func NewCBRClient(httpClient *http.Client, baseURL, userAgent, platform string, currencies []string,
	cb *gobreaker.CircuitBreaker, cache Cache, ttl time.Duration) *CBRClient {
	return &CBRClient{
		baseURL:    baseURL,
		userAgent:  userAgent,
		platform:   platform,
		currencies: currencies,
		cb:         cb,
		cache:      cache,
		cacheTTL:   ttl,
		httpDo:     httpClient.Do,
	}
}

// Fetch returns the rates for day. The result always contains RUB at 1.0, so
// on any failure it degrades to RUB only and the error says why.
func (c *CBRClient) Fetch(ctx context.Context, day time.Time) (map[string]items.Quote, error) {
	rates := map[string]items.Quote{
		RUB: {Currency: RUB, Rate: 1.0, Amount: 1, Platform: c.platform},
	}

	dateKey := day.Format(cbrDateLayout)
	if cached, ok := c.fromCache(ctx, dateKey); ok {
		for code, q := range cached {
			rates[code] = q
		}
		return rates, nil
	}

	res, err := c.cb.Execute(func() (any, error) {
		return c.download(ctx, dateKey)
	})
	if err != nil {
		return rates, fmt.Errorf("CBR request: %w", err)
	}

	fiat, err := ParseCBR(res.([]byte), c.currencies, c.platform)
	if err != nil {
		return rates, err
	}
	for code, q := range fiat {
		rates[code] = q
	}

	c.toCache(ctx, dateKey, fiat)
	return rates, nil
}

func (c *CBRClient) download(ctx context.Context, dateKey string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing CBR URL: %w", err)
	}
	q := u.Query()
	q.Set("date_req", dateKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpDo(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func cbrCacheKey(dateKey string) string {
	return "parser:cbr:" + dateKey
}

func (c *CBRClient) fromCache(ctx context.Context, dateKey string) (map[string]items.Quote, bool) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, cbrCacheKey(dateKey))
	if err != nil {
		slog.WarnContext(ctx, "CBR cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var quotes map[string]items.Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		slog.WarnContext(ctx, "CBR cache entry corrupt", "err", err)
		return nil, false
	}
	return quotes, true
}

func (c *CBRClient) toCache(ctx context.Context, dateKey string, fiat map[string]items.Quote) {
	if c.cache == nil || c.cacheTTL <= 0 || len(fiat) == 0 {
		return
	}
	raw, err := json.Marshal(fiat)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cbrCacheKey(dateKey), raw, c.cacheTTL); err != nil {
		slog.WarnContext(ctx, "CBR cache write failed", "err", err)
	}
}
