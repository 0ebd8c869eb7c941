package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittyscape/clogpoints/internal/catalog"
	"github.com/kittyscape/clogpoints/internal/recalc"
	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/alert"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

type stubIngester struct {
	res *catalog.IngestResult
	err error
}

func (s stubIngester) Run(context.Context) (*catalog.IngestResult, error) { return s.res, s.err }

type stubRecalc struct{ report *recalc.Report }

func (s stubRecalc) Run(context.Context) (*recalc.Report, error) { return s.report, nil }

type recorder struct {
	mu   sync.Mutex
	sent []*alert.Notification
}

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Send(_ context.Context, n *alert.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

type testEnv struct {
	handler http.Handler
	alerts  *recorder
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.IngestRecords(ctx, []wiki.Record{
		{ItemID: 12922, ItemName: "Tanzanite fang", PreferredName: "Tanzanite fang", CompletionRate: 4.2,
			Categories: []string{"Zulrah"}},
		{ItemID: 10350, ItemName: "3rd age full helmet", PreferredName: "3rd age full helmet", CompletionRate: 0.1,
			Categories: []string{"Elite Treasure Trails", "Third Age"}},
	})
	require.NoError(t, err)
	rates, err := s.ListRates(ctx)
	require.NoError(t, err)

	idx := catalog.NewMemoryRates()
	idx.Replace(rates)
	m := metrics.New()
	svc, err := catalog.NewService(s, idx, 8, m, nil)
	require.NoError(t, err)

	rec := &recorder{}
	opts.Catalog = svc
	opts.Alerts = alert.NewManager([]alert.Notifier{rec})
	opts.Metrics = m
	if opts.Ingester == nil {
		opts.Ingester = stubIngester{res: &catalog.IngestResult{Items: 2}}
	}
	if opts.Recalc == nil {
		opts.Recalc = stubRecalc{report: &recalc.Report{}}
	}
	return &testEnv{handler: New(opts).Handler(), alerts: rec}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestScore(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/api/v1/items/score?item=Tanzanite+fang", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 349.0, body["points"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/items/score?item=Twisted+bow", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["found"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/items/score", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/items/score?item=x", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSuggest(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, body := env.do(t, http.MethodGet, "/api/v1/items/suggest?q=fang", "")
	assert.Equal(t, []any{"Tanzanite fang"}, body["data"])

	_, body = env.do(t, http.MethodGet, "/api/v1/categories/suggest?q=&limit=1", "")
	assert.Equal(t, 1.0, body["count"])
}

func TestDetail(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/api/v1/items/detail?item=helmet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Elite Treasure Trails", "Third Age"}, body["category_list"])
	assert.Equal(t, false, body["clamp_eligible"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/items/detail?item=Twisted+bow", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClampAndWhitelist(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, _ := env.do(t, http.MethodPut, "/api/v1/categories/clamp", `{"category":"Third Age","clamp":true,"actor":"42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body := env.do(t, http.MethodGet, "/api/v1/items/score?item=3rd+age+full+helmet", "")
	assert.Equal(t, 3000.0, body["points"])

	rec, _ = env.do(t, http.MethodPut, "/api/v1/items/whitelist", `{"item":"3rd age full helmet","whitelist":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = env.do(t, http.MethodGet, "/api/v1/items/score?item=3rd+age+full+helmet", "")
	assert.Equal(t, 94868.0, body["points"])

	require.Len(t, env.alerts.sent, 2)
	assert.Equal(t, "42", env.alerts.sent[0].Actor)
	assert.Equal(t, "api", env.alerts.sent[1].Actor)

	rec, _ = env.do(t, http.MethodPut, "/api/v1/categories/clamp", `{"category":"Nope","clamp":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/v1/items/whitelist", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletions(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodPost, "/api/v1/completions",
		`{"player_id":"175928847299117063","display_name":"Zezima","item":"Tanzanite fang"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Zezima", body["display_name"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/completions", `{"player_id":"abc","item":"Tanzanite fang"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/completions", `{"player_id":"175928847299117063","item":"Twisted bow"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec, body := env.do(t, http.MethodPost, "/api/v1/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["items"])

	failing := newTestEnv(t, Options{Ingester: stubIngester{err: errors.New("wiki down")}})
	rec, body = failing.do(t, http.MethodPost, "/api/v1/ingest", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "wiki down", body["error"])
}

func TestRecalculate(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec, body := env.do(t, http.MethodPost, "/api/v1/recalculate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recalc.NothingToReport, body["readout"])
	assert.Empty(t, env.alerts.sent)

	changed := &recalc.Report{
		Corrected: 1,
		Items:     []recalc.ItemChange{{ItemID: 1, ItemName: "Pet", OldPoints: 10, NewPoints: 20, Affected: 1}},
		Players:   []recalc.PlayerChange{{PlayerID: "7", DisplayName: "Seven", Delta: 10}},
	}
	env = newTestEnv(t, Options{Recalc: stubRecalc{report: changed}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recalculate", nil)
	req.Header.Set("X-Actor", "99")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.alerts.sent, 1)
	assert.Equal(t, "99", env.alerts.sent[0].Actor)
	assert.Contains(t, env.alerts.sent[0].Body, "**Pet** (1): from 10 to 20 points (**+10**)")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodGet, "/api/v1/items/score?item=Tanzanite+fang", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `clogpoints_catalog_score_lookups_total{result="hit"} 1`)
}
