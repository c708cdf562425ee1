package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/internal/ai/mock"
	"github.com/kiranshivaraju/honeykey/internal/api"
	"github.com/kiranshivaraju/honeykey/internal/api/handler"
	mw "github.com/kiranshivaraju/honeykey/internal/api/middleware"
	"github.com/kiranshivaraju/honeykey/internal/cache"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/internal/incident"
	"github.com/kiranshivaraju/honeykey/internal/metrics"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

const (
	honeypotKey = "K1"
	attackerIP  = "1.2.3.4"
)

type testEnv struct {
	router http.Handler
	store  store.Store
}

type envOptions struct {
	provider  models.AIProvider
	cache     cache.Cache
	rateLimit int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx := context.Background()

	dbCfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "honeykey.db")}
	require.NoError(t, store.RunMigrations(dbCfg))
	s, err := store.Open(ctx, dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cred, err := incident.NewCredential(config.HoneypotConfig{Key: honeypotKey, KeyID: "honeypot"})
	require.NoError(t, err)

	ca := opts.cache
	if ca == nil {
		ca = cache.Noop{}
	}

	correlator := incident.NewCorrelator(s, nil, 30*time.Minute)
	recorder := incident.NewRecorder(s, correlator, "honeypot")
	analyzer := ai.NewAnalyzer(opts.provider, s, ca, nil, 0, time.Minute)

	router := api.NewRouter(api.Dependencies{
		Observer:  mw.NewObserver(recorder, cred, api.MetricsPath),
		RateLimit: mw.NewRateLimit(ca, opts.rateLimit),
		CORS:      mw.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}, AllowCredentials: true},

		HealthHandler:  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"status":"ok"}`)) },
		MetricsHandler: metrics.Handler(),
		DecoyHandler:   handler.NewDecoyHandler(),

		ListIncidents:  handler.NewListIncidentsHandler(s),
		GetIncident:    handler.NewGetIncidentHandler(s),
		ListEvents:     handler.NewListEventsHandler(s),
		AnalyzeHandler: handler.NewAnalyzeHandler(analyzer),
		LatestReport:   handler.NewLatestReportHandler(analyzer),
		ReportHistory:  handler.NewReportHistoryHandler(analyzer),
	})

	return &testEnv{router: router, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = attackerIP + ":1234"
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// ─── end-to-end scenarios ────────────────────────────────────────────────────

func TestHoneypotToReport(t *testing.T) {
	env := newTestEnv(t, envOptions{provider: mock.NewMockProvider()})

	w := env.do(t, http.MethodGet, "/v1/secrets", "Bearer "+honeypotKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	require.Len(t, incidents, 1)
	assert.Equal(t, attackerIP, incidents[0].SourceIP)
	assert.Equal(t, 1, incidents[0].EventCount)
	id := incidents[0].ID

	w = env.do(t, http.MethodGet, "/v1/secrets", "Bearer "+honeypotKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	incidents = decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	require.Len(t, incidents, 1)
	assert.Equal(t, id, incidents[0].ID)
	assert.Equal(t, 2, incidents[0].EventCount)
	assert.False(t, incidents[0].LastSeen.Before(incidents[0].FirstSeen))

	w = env.do(t, http.MethodPost, fmt.Sprintf("/incidents/%d/analyze", id), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	analyzed := decode[models.Report](t, w)
	assert.Equal(t, id, analyzed.IncidentID)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/ai-report", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, analyzed, decode[models.Report](t, w))

	events := decode[[]models.Event](t, env.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/events", id), ""))
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.HoneypotKeyUsed)
		require.NotNil(t, ev.IncidentID)
		assert.Equal(t, id, *ev.IncidentID)
		assert.Equal(t, attackerIP, *ev.SourceIP)
	}
	assert.False(t, events[0].Timestamp.Before(events[1].Timestamp))
}

func TestNonJSONReplyIsBadGateway(t *testing.T) {
	env := newTestEnv(t, envOptions{provider: mock.NewReplyProvider("Sorry, I can't produce JSON today.")})

	env.do(t, http.MethodGet, "/v1/projects", "Bearer "+honeypotKey)
	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	require.Len(t, incidents, 1)
	id := incidents[0].ID

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/incidents/%d/analyze", id), nil)
	req.Header.Set("X-Correlation-ID", "trace-502")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[map[string]map[string]any](t, w)
	assert.Equal(t, "AI_GENERATION_FAILED", body["error"]["code"])
	assert.True(t, strings.HasSuffix(body["error"]["message"].(string), "correlation_id=trace-502"))
	assert.Equal(t, "trace-502", body["error"]["details"].(map[string]any)["correlation_id"])

	rows, err := env.store.ListAIReports(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].ParseOK)
	require.NotNil(t, rows[0].Error)
	assert.NotEmpty(t, *rows[0].Error)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/ai-report", id), "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ─── recorder behavior through the router ────────────────────────────────────

func TestNonHoneypotTrafficOpensNoIncident(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	env.do(t, http.MethodGet, "/v1/secrets", "Bearer wrong")
	env.do(t, http.MethodGet, "/v1/projects", "")
	env.do(t, http.MethodGet, "/health", "")

	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	assert.Empty(t, incidents)
}

func TestUnknownPathsAreStillRecorded(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/.env", "Bearer "+honeypotKey)
	assert.Equal(t, http.StatusNotFound, w.Code)

	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	require.Len(t, incidents, 1)

	events := decode[[]models.Event](t, env.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/events", incidents[0].ID), ""))
	require.Len(t, events, 1)
	assert.Equal(t, "/.env", events[0].Path)
}

func TestMetricsNotRecorded(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, api.MetricsPath, "Bearer "+honeypotKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "honeykey_")

	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	assert.Empty(t, incidents)
}

// ─── query surface ───────────────────────────────────────────────────────────

func TestQueryErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/incidents/404", http.StatusNotFound},
		{http.MethodGet, "/incidents/abc", http.StatusBadRequest},
		{http.MethodGet, "/incidents/404/ai-report", http.StatusNotFound},
		{http.MethodPost, "/incidents/404/analyze", http.StatusBadRequest},
		{http.MethodDelete, "/incidents/1", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}

	w := env.do(t, http.MethodGet, "/incidents/404/events", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAnalyze_NotConfiguredChecksBeforeIncident(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodPost, "/incidents/999/analyze", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AI_NOT_CONFIGURED", decode[map[string]map[string]any](t, w)["error"]["code"])
}

func TestAnalyze_UnknownIncident(t *testing.T) {
	env := newTestEnv(t, envOptions{provider: mock.NewMockProvider()})

	w := env.do(t, http.MethodPost, "/incidents/999/analyze", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyze_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	env := newTestEnv(t, envOptions{provider: mock.NewMockProvider(), cache: rc, rateLimit: 2})

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/incidents/1/analyze", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/incidents/1/analyze", "").Code)

	w := env.do(t, http.MethodPost, "/incidents/1/analyze", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// other routes are not limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/incidents", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/incidents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestCORSPreflightIsRecorded(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/secrets", nil)
	req.RemoteAddr = attackerIP + ":1234"
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Authorization", "Bearer "+honeypotKey)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	incidents := decode[[]models.Incident](t, env.do(t, http.MethodGet, "/incidents", ""))
	require.Len(t, incidents, 1)

	events := decode[[]models.Event](t, env.do(t, http.MethodGet, fmt.Sprintf("/incidents/%d/events", incidents[0].ID), ""))
	require.Len(t, events, 1)
	assert.Equal(t, http.MethodOptions, events[0].Method)
	assert.Equal(t, "/v1/secrets", events[0].Path)
	assert.Equal(t, w.Header().Get("X-Correlation-ID"), events[0].CorrelationID)
}

func TestNotImplementedPlaceholder(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/incidents", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
