package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const sampleCBR = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="01.06.2025" name="Foreign Currency Market">
  <Valute ID="R01235">
    <NumCode>840</NumCode>
    <CharCode>USD</CharCode>
    <Nominal>1</Nominal>
    <Name>Доллар США</Name>
    <Value>79,5700</Value>
    <VunitRate>79,57</VunitRate>
  </Valute>
  <Valute ID="R01375">
    <NumCode>156</NumCode>
    <CharCode>CNY</CharCode>
    <Nominal>10</Nominal>
    <Name>Юань</Name>
    <Value>110,2500</Value>
  </Valute>
  <Valute ID="R01239">
    <NumCode>978</NumCode>
    <CharCode>EUR</CharCode>
    <Nominal>1</Nominal>
    <Name>Евро</Name>
    <Value>broken</Value>
  </Valute>
  <Valute ID="R01035">
    <NumCode>826</NumCode>
    <CharCode>GBP</CharCode>
    <Nominal>1</Nominal>
    <Name>Фунт</Name>
    <Value>107,0000</Value>
  </Valute>
</ValCurs>`

func encode1251(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.Windows1251.NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(out)
}

func testBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: name})
}

func TestParseCBR(t *testing.T) {
	t.Parallel()

	quotes, err := ParseCBR(encode1251(t, sampleCBR), []string{"USD", "EUR", "CNY"}, "CBR")
	require.NoError(t, err)

	require.Len(t, quotes, 2, "EUR is unparsable, GBP is not requested")

	usd := quotes["USD"]
	assert.InDelta(t, 79.57, usd.Rate, 1e-9)
	assert.Equal(t, 1, usd.Amount)
	assert.Equal(t, "CBR", usd.Platform)

	cny := quotes["CNY"]
	assert.InDelta(t, 11.025, cny.Rate, 1e-9, "Value is divided by Nominal")
	assert.Equal(t, 10, cny.Amount)
}

func TestParseCBR_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ParseCBR([]byte("<ValCurs><Valute>"), []string{"USD"}, "CBR")
	assert.Error(t, err)
}

func TestParseCBR_UnsupportedCharset(t *testing.T) {
	t.Parallel()

	doc := []byte(`<?xml version="1.0" encoding="koi8-r"?><ValCurs></ValCurs>`)
	_, err := ParseCBR(doc, []string{"USD"}, "CBR")
	assert.ErrorContains(t, err, "unsupported charset")
}

func TestParseDecimal(t *testing.T) {
	t.Parallel()

	v, err := parseDecimal(" 12,5 ")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, v, 1e-9)

	_, err = parseDecimal("n/a")
	assert.Error(t, err)
}

// memCache is an in-memory Cache double.
type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	sets   int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = val
	return nil
}

func TestCBRClient_FetchAndCache(t *testing.T) {
	t.Parallel()

	var (
		hits           atomic.Int32
		mu             sync.Mutex
		gotDate, gotUA string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mu.Lock()
		gotDate = r.URL.Query().Get("date_req")
		gotUA = r.Header.Get("User-Agent")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/xml; charset=windows-1251")
		w.Write(encode1251(t, sampleCBR)) //nolint:errcheck
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewCBRClient(srv.Client(), srv.URL, "test-agent", "CBR", []string{"USD", "CNY"},
		testBreaker("cbr-fetch"), cache, time.Minute)

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rates, err := c.Fetch(context.Background(), day)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, "01/06/2025", gotDate)
	assert.Equal(t, "test-agent", gotUA)
	mu.Unlock()
	assert.Len(t, rates, 3)
	assert.InDelta(t, 1.0, rates[RUB].Rate, 1e-9)
	assert.Contains(t, rates, "USD")
	assert.Equal(t, 1, cache.sets)

	// Second call on the same day is served from the cache.
	rates, err = c.Fetch(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, rates, 3)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCBRClient_CacheErrorFallsThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(encode1251(t, sampleCBR)) //nolint:errcheck
	}))
	defer srv.Close()

	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	c := NewCBRClient(srv.Client(), srv.URL, "ua", "CBR", []string{"USD"},
		testBreaker("cbr-cache-err"), cache, time.Minute)

	rates, err := c.Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Contains(t, rates, "USD")
}

func TestCBRClient_FailureDegradesToRUB(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewCBRClient(srv.Client(), srv.URL, "ua", "CBR", []string{"USD"},
		testBreaker("cbr-502"), cache, time.Minute)

	rates, err := c.Fetch(context.Background(), time.Now())
	assert.ErrorContains(t, err, "unexpected status 502")
	require.Len(t, rates, 1)
	assert.Equal(t, "CBR", rates[RUB].Platform)
	assert.Zero(t, cache.sets, "failures are never cached")
}

func TestCBRClient_NoCacheWhenTTLZero(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write(encode1251(t, sampleCBR)) //nolint:errcheck
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewCBRClient(srv.Client(), srv.URL, "ua", "CBR", []string{"USD"},
		testBreaker("cbr-nottl"), cache, 0)

	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), time.Now())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Zero(t, cache.sets)
}
