package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rzhvms/CurrencyParser/internal/items"
	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
	"github.com/Rzhvms/CurrencyParser/internal/poller"
	"github.com/Rzhvms/CurrencyParser/internal/store"
)

// noopLogger returns a slog.Logger that discards all output.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOrchestrator is a test double that implements orchestratorService.
type fakeOrchestrator struct {
	inProgress   bool
	ready        bool
	deepProbes   map[string]orchestrator.ProbeResult
	bootstrapErr error
	// bootstrapDelay simulates slow bootstrap so async tests can verify 202.
	bootstrapDelay time.Duration
}

func (f *fakeOrchestrator) IsBootstrapInProgress() bool {
	return f.inProgress
}

func (f *fakeOrchestrator) IsReady() bool {
	return f.ready
}

func (f *fakeOrchestrator) RunBootstrap(_ context.Context) (*orchestrator.BootstrapResult, error) {
	if f.bootstrapDelay > 0 {
		time.Sleep(f.bootstrapDelay)
	}
	if f.bootstrapErr != nil {
		return nil, f.bootstrapErr
	}
	return &orchestrator.BootstrapResult{
		Status: orchestrator.StatusOK,
		Phases: map[string]orchestrator.PhaseResult{},
	}, nil
}

func (f *fakeOrchestrator) RunDeepHealth(_ context.Context) map[string]orchestrator.ProbeResult {
	if f.deepProbes != nil {
		return f.deepProbes
	}
	return map[string]orchestrator.ProbeResult{}
}

type fakePoller struct {
	sum   poller.Summary
	err   error
	delay time.Duration
	calls int
}

func (f *fakePoller) RunOnce(ctx context.Context) (poller.Summary, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return poller.Summary{}, ctx.Err()
		}
	}
	return f.sum, f.err
}

// failingItems makes every call fail with err.
type failingItems struct{ err error }

func (f failingItems) List(context.Context) ([]items.Item, error)       { return nil, f.err }
func (f failingItems) Get(context.Context, int64) (*items.Item, error)  { return nil, f.err }
func (f failingItems) Delete(context.Context, int64) error              { return f.err }
func (f failingItems) Create(context.Context, items.CreateRequest) (*items.Item, error) {
	return nil, f.err
}
func (f failingItems) Update(context.Context, int64, items.UpdateRequest) (*items.Item, error) {
	return nil, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []items.Event
}

func (r *recorder) Notify(_ context.Context, ev items.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newItemService() (*items.Service, *recorder) {
	rec := &recorder{}
	return items.NewService(store.NewMemoryStore(), []string{"BTC", "ETH"}, "test-node", rec), rec
}

// newTestEngine builds a minimal Gin engine with only the given handler and
// no middleware, for isolated handler testing.
func newTestEngine(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

// itemsEngine registers every item route on a bare engine.
func itemsEngine(svc itemService) *gin.Engine {
	h := &Handler{items: svc}
	r := gin.New()
	r.GET("/items", h.ListItems)
	r.POST("/items", h.CreateItem)
	r.GET("/items/:id", h.GetItem)
	r.PATCH("/items/:id", h.UpdateItem)
	r.DELETE("/items/:id", h.DeleteItem)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	return body.Error
}

// --- Item handlers ---

func TestItems_CRUDFlow(t *testing.T) {
	t.Parallel()

	svc, rec := newItemService()
	engine := itemsEngine(svc)

	w := do(t, engine, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, engine, http.MethodPost, "/items", `{"currency":" usd ","rate":91.5,"platform":"CBR"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created items.Item
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, 1, created.Amount, "amount defaults to 1")
	assert.NotZero(t, created.ID)

	w = do(t, engine, http.MethodGet, "/items/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, engine, http.MethodPatch, "/items/1", `{"rate":92.25}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated items.Item
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	assert.InDelta(t, 92.25, updated.Rate, 1e-9)
	assert.Equal(t, "CBR", updated.Platform, "omitted fields are kept")

	w = do(t, engine, http.MethodGet, "/items", "")
	var list []items.Item
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 1)

	w = do(t, engine, http.MethodDelete, "/items/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(t, engine, http.MethodGet, "/items/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Len(t, rec.events, 3)
	assert.Equal(t, items.EventCreated, rec.events[0].Type)
	assert.Equal(t, items.EventUpdated, rec.events[1].Type)
	assert.Equal(t, items.Event{Type: items.EventDeleted, ID: 1, Origin: "test-node"}, rec.events[2])
}

func TestItems_ClientErrors(t *testing.T) {
	t.Parallel()

	svc, _ := newItemService()
	engine := itemsEngine(svc)
	require.Equal(t, http.StatusCreated,
		do(t, engine, http.MethodPost, "/items", `{"currency":"EUR","rate":99,"platform":"CBR"}`).Code)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		want    int
		message string
	}{
		{"non-numeric id", http.MethodGet, "/items/abc", "", http.StatusBadRequest, "positive integer"},
		{"zero id", http.MethodDelete, "/items/0", "", http.StatusBadRequest, "positive integer"},
		{"unknown id", http.MethodGet, "/items/99", "", http.StatusNotFound, "not found"},
		{"delete unknown", http.MethodDelete, "/items/99", "", http.StatusNotFound, "not found"},
		{"patch unknown", http.MethodPatch, "/items/99", `{"rate":1}`, http.StatusNotFound, "not found"},
		{"malformed body", http.MethodPost, "/items", `{"currency":`, http.StatusBadRequest, "invalid request body"},
		{"wrong type", http.MethodPost, "/items", `{"currency":"GBP","rate":"high"}`, http.StatusBadRequest, "invalid request body"},
		{"blank currency", http.MethodPost, "/items", `{"currency":" ","rate":1,"platform":"CBR"}`, http.StatusBadRequest, "currency"},
		{"digits in currency", http.MethodPost, "/items", `{"currency":"U5D","rate":1,"platform":"CBR"}`, http.StatusBadRequest, "currency"},
		{"negative rate", http.MethodPost, "/items", `{"currency":"GBP","rate":-1,"platform":"CBR"}`, http.StatusBadRequest, "rate"},
		{"zero amount", http.MethodPost, "/items", `{"currency":"GBP","rate":1,"amount":0,"platform":"CBR"}`, http.StatusBadRequest, "amount"},
		{"blank platform", http.MethodPost, "/items", `{"currency":"GBP","rate":1,"platform":""}`, http.StatusBadRequest, "platform"},
		{"duplicate currency", http.MethodPost, "/items", `{"currency":"eur","rate":1,"platform":"CBR"}`, http.StatusConflict, "already exists"},
		{"patch negative rate", http.MethodPatch, "/items/1", `{"rate":-5}`, http.StatusBadRequest, "rate"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := do(t, engine, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, w.Code)
			assert.Contains(t, decodeError(t, w), tc.message)
		})
	}
}

func TestItems_InternalErrorIsHidden(t *testing.T) {
	t.Parallel()

	engine := itemsEngine(failingItems{err: errors.New("pool exhausted")})

	for _, path := range []string{"/items", "/items/1"} {
		w := do(t, engine, http.MethodGet, path, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal server error", decodeError(t, w))
	}
}

// --- Tasks handler ---

func TestRunTasks(t *testing.T) {
	t.Parallel()

	t.Run("accepted with summary", func(t *testing.T) {
		t.Parallel()
		fp := &fakePoller{sum: poller.Summary{Created: 2, Updated: 1}}
		h := &Handler{poller: fp}
		w := do(t, newTestEngine(http.MethodPost, "/tasks/run", h.RunTasks), http.MethodPost, "/tasks/run", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"status":"ok","summary":{"created":2,"updated":1,"unchanged":0,"failed":0}}`, w.Body.String())
		assert.Equal(t, 1, fp.calls)
	})

	t.Run("run failure", func(t *testing.T) {
		t.Parallel()
		h := &Handler{poller: &fakePoller{err: errors.New("every source failed")}}
		w := do(t, newTestEngine(http.MethodPost, "/tasks/run", h.RunTasks), http.MethodPost, "/tasks/run", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("no poller", func(t *testing.T) {
		t.Parallel()
		h := &Handler{}
		w := do(t, newTestEngine(http.MethodPost, "/tasks/run", h.RunTasks), http.MethodPost, "/tasks/run", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "poller not initialized", decodeError(t, w))
	})
}

// --- Bootstrap handler ---

func TestBootstrap_202WhenNotRunning(t *testing.T) {
	t.Parallel()

	fake := &fakeOrchestrator{inProgress: false, bootstrapDelay: 50 * time.Millisecond}
	handler := &Handler{orchestrator: fake}

	engine := newTestEngine(http.MethodPost, "/api/v1/bootstrap", handler.Bootstrap)
	w := do(t, engine, http.MethodPost, "/api/v1/bootstrap", "")

	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "accepted", body["status"])
}

func TestBootstrap_409WhenInProgress(t *testing.T) {
	t.Parallel()

	fake := &fakeOrchestrator{inProgress: true}
	handler := &Handler{orchestrator: fake}

	engine := newTestEngine(http.MethodPost, "/api/v1/bootstrap", handler.Bootstrap)
	w := do(t, engine, http.MethodPost, "/api/v1/bootstrap", "")

	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "in-progress", body["status"])
}

// --- Health handlers ---

func TestHealth_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	handler := &Handler{orchestrator: &fakeOrchestrator{}}
	engine := newTestEngine(http.MethodGet, "/health", handler.Health)
	w := do(t, engine, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "shallow", body["mode"])
}

func TestDeepHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes map[string]orchestrator.ProbeResult
		code   int
		status string
	}{
		{
			name: "all healthy",
			probes: map[string]orchestrator.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"nats":     {Name: "nats", OK: true},
				"redis":    {Name: "redis", OK: true},
			},
			code:   http.StatusOK,
			status: "healthy",
		},
		{
			name: "one unhealthy",
			probes: map[string]orchestrator.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"nats":     {Name: "nats", OK: false, Error: "connection refused"},
			},
			code:   http.StatusServiceUnavailable,
			status: "unhealthy",
		},
		{
			name: "all unhealthy",
			probes: map[string]orchestrator.ProbeResult{
				"postgres": {Name: "postgres", OK: false, Error: "timeout"},
				"redis":    {Name: "redis", OK: false, Error: "timeout"},
			},
			code:   http.StatusServiceUnavailable,
			status: "unhealthy",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			handler := &Handler{orchestrator: &fakeOrchestrator{deepProbes: tc.probes}}
			engine := newTestEngine(http.MethodGet, "/health/deep", handler.DeepHealth)
			w := do(t, engine, http.MethodGet, "/health/deep", "")

			assert.Equal(t, tc.code, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tc.status, body["status"])
			assert.Len(t, body["dependencies"], len(tc.probes))
		})
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	for _, ready := range []bool{false, true} {
		handler := &Handler{orchestrator: &fakeOrchestrator{ready: ready}}
		engine := newTestEngine(http.MethodGet, "/ready", handler.Ready)
		w := do(t, engine, http.MethodGet, "/ready", "")

		want := http.StatusServiceUnavailable
		if ready {
			want = http.StatusOK
		}
		assert.Equal(t, want, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, ready, body["ready"])
	}
}

// --- Middleware ---

func TestRecoveryMiddleware_Returns500OnPanic(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(Recovery(noopLogger()))
	engine.GET("/panic", func(c *gin.Context) {
		panic("intentional test panic")
	})

	w := do(t, engine, http.MethodGet, "/panic", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w))
}

func TestCORS_AllowsAnyOrigin(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(CORS())
	engine.GET("/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/items", nil)
	req.Header.Set("Origin", "http://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "X-Requested-With")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Origin", "http://dashboard.example")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// --- NewRouter smoke test ---

func TestNewRouter_RoutesRegistered(t *testing.T) {
	t.Parallel()

	svc, _ := newItemService()
	fake := &fakeOrchestrator{ready: true, deepProbes: map[string]orchestrator.ProbeResult{
		"postgres": {Name: "postgres", OK: true},
	}}
	router := NewRouter(Deps{
		Items:        svc,
		Poller:       &fakePoller{},
		Orchestrator: fake,
		Hub:          http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
	})

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/items", http.StatusOK},
		{http.MethodGet, "/items/1", http.StatusNotFound},
		{http.MethodGet, "/ws/items", http.StatusTeapot},
		{http.MethodPost, "/tasks/run", http.StatusAccepted},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/deep", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodPost, "/api/v1/bootstrap", http.StatusAccepted},
		{http.MethodGet, "/api-docs", http.StatusMovedPermanently},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tc := range cases {
		w := do(t, router.Handler(), tc.method, tc.path, "")
		assert.Equal(t, tc.want, w.Code, "route %s %s", tc.method, tc.path)
	}
}
