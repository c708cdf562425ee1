package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/internal/ai/mock"
	"github.com/kiranshivaraju/honeykey/internal/cache"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/internal/notify"
	"github.com/kiranshivaraju/honeykey/internal/requestid"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// --- helpers ---

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

func setupStore(t *testing.T) store.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "honeykey.db")}
	require.NoError(t, store.RunMigrations(cfg))

	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setupCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedIncident creates an incident with n honeypot events one second apart.
func seedIncident(t *testing.T, s store.Store, ip string, n int) *models.Incident {
	t.Helper()
	inc := &models.Incident{KeyID: "honeypot", SourceIP: ip, FirstSeen: t0, LastSeen: t0.Add(time.Duration(n-1) * time.Second), EventCount: n}
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.CreateIncident(context.Background(), inc); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			ipCopy := ip
			ev := &models.Event{
				Timestamp:       t0.Add(time.Duration(i) * time.Second),
				SourceIP:        &ipCopy,
				Method:          "GET",
				Path:            "/v1/secrets",
				CorrelationID:   "seed",
				AuthPresent:     true,
				HoneypotKeyUsed: true,
				IncidentID:      &inc.ID,
			}
			if err := tx.CreateEvent(context.Background(), ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return inc
}

func validReply(id int64) string {
	out, _ := json.Marshal(map[string]any{
		"incident_id":         id,
		"severity":            "high",
		"summary":             "Honeypot key replayed",
		"evidence":            []string{"GET /v1/secrets"},
		"recommended_actions": []string{"Block IP"},
	})
	return string(out)
}

// --- Analyze ---

func TestAnalyze_NotConfigured(t *testing.T) {
	s := setupStore(t)
	a := ai.NewAnalyzer(nil, s, nil, nil, 0, 0)

	_, err := a.Analyze(context.Background(), 12345)
	assert.ErrorIs(t, err, ai.ErrConfigurationMissing)
	assert.False(t, a.Configured())
}

func TestAnalyze_IncidentNotFound(t *testing.T) {
	s := setupStore(t)
	p := mock.NewMockProvider()
	a := ai.NewAnalyzer(p, s, nil, nil, 0, 0)

	_, err := a.Analyze(context.Background(), 999)
	assert.ErrorIs(t, err, ai.ErrIncidentNotFound)
	assert.Empty(t, p.Prompts(), "provider must not be called")
}

func TestAnalyze_SuccessRoundTrip(t *testing.T) {
	s := setupStore(t)
	ca, mr := setupCache(t)
	pub := &recordingPublisher{}
	inc := seedIncident(t, s, "1.2.3.4", 2)

	a := ai.NewAnalyzer(mock.NewMockProvider(), s, ca, notify.New(pub, "honeykey"), 0, time.Minute)
	ctx := context.Background()

	report, err := a.Analyze(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, report.IncidentID)
	assert.Equal(t, "high", report.Severity)

	latest, err := a.LatestReport(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, report, latest)

	assert.True(t, mr.Exists(cache.ReportKey(inc.ID)))
	assert.Equal(t, []string{"honeykey.reports.created"}, pub.Subjects())

	history, err := a.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].ParseOK)
	assert.Equal(t, "mock", history[0].Provider)
	assert.Equal(t, "mock-v1", history[0].Model)
	assert.Nil(t, history[0].Error)
}

func TestAnalyze_FencedReply(t *testing.T) {
	s := setupStore(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	a := ai.NewAnalyzer(mock.NewReplyProvider("```json\n"+validReply(inc.ID)+"\n```"), s, nil, nil, 0, 0)

	report, err := a.Analyze(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Block IP"}, report.RecommendedActions)
}

func TestAnalyze_PromptUsesMostRecent25Events(t *testing.T) {
	s := setupStore(t)
	inc := seedIncident(t, s, "1.2.3.4", 30)
	p := mock.NewMockProvider()
	a := ai.NewAnalyzer(p, s, nil, nil, 0, 0)

	_, err := a.Analyze(context.Background(), inc.ID)
	require.NoError(t, err)

	prompts := p.Prompts()
	require.Len(t, prompts, 1)
	idx := strings.Index(prompts[0], "Recent events: ")
	require.GreaterOrEqual(t, idx, 0)

	var events []map[string]any
	require.NoError(t, json.NewDecoder(strings.NewReader(prompts[0][idx+len("Recent events: "):])).Decode(&events))
	require.Len(t, events, ai.PromptEventLimit)
	assert.Equal(t, t0.Add(29*time.Second).Format(time.RFC3339), events[0]["ts"])
	assert.NotContains(t, events[0], "incident_id")
}

func TestAnalyze_ProviderError(t *testing.T) {
	s := setupStore(t)
	pub := &recordingPublisher{}
	inc := seedIncident(t, s, "1.2.3.4", 1)
	a := ai.NewAnalyzer(mock.NewFailingProvider(ai.ErrProviderUnavailable), s, nil, notify.New(pub, "honeykey"), 0, 0)

	ctx := requestid.NewContext(context.Background(), "cid-1")
	_, err := a.Analyze(ctx, inc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)

	var genErr *ai.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "cid-1", genErr.CorrelationID)
	assert.True(t, strings.HasPrefix(err.Error(), "AI generation failed: "))
	assert.True(t, strings.HasSuffix(err.Error(), ". correlation_id=cid-1"))

	history, err := a.History(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].ParseOK)
	assert.Nil(t, history[0].ReportJSON)
	require.NotNil(t, history[0].Error)
	assert.Contains(t, *history[0].Error, "unavailable")

	_, err = a.LatestReport(ctx, inc.ID)
	assert.ErrorIs(t, err, ai.ErrReportConflict)
	assert.Equal(t, []string{"honeykey.reports.failed"}, pub.Subjects())
}

func TestAnalyze_InvalidReplies(t *testing.T) {
	tests := []struct {
		name    string
		reply   func(id int64) string
		wantMsg string
	}{
		{"no object", func(int64) string { return "I cannot help with that." }, "no JSON object"},
		{"invalid json", func(int64) string { return "{not json}" }, "invalid JSON"},
		{"extra key", func(id int64) string {
			return strings.Replace(validReply(id), "{", `{"confidence":0.9,`, 1)
		}, "extra_key"},
		{"wrong incident", func(id int64) string { return validReply(id + 100) }, "value_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			inc := seedIncident(t, s, "1.2.3.4", 1)
			reply := tt.reply(inc.ID)
			a := ai.NewAnalyzer(mock.NewReplyProvider(reply), s, nil, nil, 0, 0)

			_, err := a.Analyze(context.Background(), inc.ID)
			require.ErrorIs(t, err, ai.ErrGenerationFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Contains(t, err.Error(), "correlation_id=unknown")

			history, err := a.History(context.Background(), inc.ID)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.False(t, history[0].ParseOK)
			require.NotNil(t, history[0].ReportJSON)
			assert.Equal(t, reply, *history[0].ReportJSON)
		})
	}
}

func TestAnalyze_FailureInvalidatesCachedReport(t *testing.T) {
	s := setupStore(t)
	ca, mr := setupCache(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	ctx := context.Background()

	good := ai.NewAnalyzer(mock.NewMockProvider(), s, ca, nil, 0, time.Minute)
	_, err := good.Analyze(ctx, inc.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.ReportKey(inc.ID)))

	bad := ai.NewAnalyzer(mock.NewReplyProvider("nope"), s, ca, nil, 0, time.Minute)
	_, err = bad.Analyze(ctx, inc.ID)
	require.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.False(t, mr.Exists(cache.ReportKey(inc.ID)))

	_, err = good.LatestReport(ctx, inc.ID)
	assert.ErrorIs(t, err, ai.ErrReportConflict)
}

func TestAnalyze_Timeout(t *testing.T) {
	s := setupStore(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	a := ai.NewAnalyzer(mock.NewTimeoutProvider(), s, nil, nil, 20*time.Millisecond, 0)

	_, err := a.Analyze(context.Background(), inc.ID)
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
}

func TestAnalyze_ProviderPanic(t *testing.T) {
	s := setupStore(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	p := &mock.MockProvider{
		Name_: "mock-panic",
		GenerateFunc: func(context.Context, string) (string, error) {
			panic("kaboom")
		},
	}
	a := ai.NewAnalyzer(p, s, nil, nil, 0, 0)

	_, err := a.Analyze(context.Background(), inc.ID)
	require.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "kaboom")
}

// --- LatestReport ---

func TestLatestReport_NotFound(t *testing.T) {
	s := setupStore(t)
	a := ai.NewAnalyzer(nil, s, nil, nil, 0, 0)

	_, err := a.LatestReport(context.Background(), 1)
	assert.ErrorIs(t, err, ai.ErrReportNotFound)
}

func TestLatestReport_ServedFromCache(t *testing.T) {
	s := setupStore(t)
	ca, _ := setupCache(t)
	ctx := context.Background()

	cached := models.Report{IncidentID: 42, Severity: "low", Summary: "cached", Evidence: []string{}, RecommendedActions: []string{}}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, ca.Set(ctx, cache.ReportKey(42), payload, time.Minute))

	a := ai.NewAnalyzer(nil, s, ca, nil, 0, time.Minute)
	got, err := a.LatestReport(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, &cached, got)
}

func TestLatestReport_NewestRowWins(t *testing.T) {
	s := setupStore(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	ctx := context.Background()

	_, err := ai.NewAnalyzer(mock.NewReplyProvider("garbage"), s, nil, nil, 0, 0).Analyze(ctx, inc.ID)
	require.Error(t, err)

	a := ai.NewAnalyzer(mock.NewMockProvider(), s, nil, nil, 0, 0)
	_, err = a.Analyze(ctx, inc.ID)
	require.NoError(t, err)

	report, err := a.LatestReport(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, report.IncidentID)
}

// --- cache consistency under concurrent failures ---

// interleavingStore runs hook once, right after the first call that matches.
type interleavingStore struct {
	store.Store
	once       sync.Once
	afterRead  func()
	afterWrite func()
}

func (s *interleavingStore) GetLatestAIReport(ctx context.Context, incidentID int64) (*models.AIReport, error) {
	row, err := s.Store.GetLatestAIReport(ctx, incidentID)
	if s.afterRead != nil {
		s.once.Do(s.afterRead)
	}
	return row, err
}

func (s *interleavingStore) CreateAIReport(ctx context.Context, row *models.AIReport) error {
	if err := s.Store.CreateAIReport(ctx, row); err != nil {
		return err
	}
	if s.afterWrite != nil && row.ParseOK {
		s.once.Do(s.afterWrite)
	}
	return nil
}

func TestLatestReport_FailureDuringCacheFillIsNotMasked(t *testing.T) {
	base := setupStore(t)
	ca, mr := setupCache(t)
	inc := seedIncident(t, base, "1.2.3.4", 1)
	ctx := context.Background()

	_, err := ai.NewAnalyzer(mock.NewMockProvider(), base, ca, nil, 0, time.Minute).Analyze(ctx, inc.ID)
	require.NoError(t, err)
	mr.FlushAll()

	bad := ai.NewAnalyzer(mock.NewReplyProvider("not json"), base, ca, nil, 0, time.Minute)
	racing := &interleavingStore{Store: base}
	racing.afterRead = func() {
		_, err := bad.Analyze(ctx, inc.ID)
		require.ErrorIs(t, err, ai.ErrGenerationFailed)
	}
	reader := ai.NewAnalyzer(nil, racing, ca, nil, 0, time.Minute)

	// The read began before the failure, so it may still see the old success.
	_, err = reader.LatestReport(ctx, inc.ID)
	require.NoError(t, err)

	assert.False(t, mr.Exists(cache.ReportKey(inc.ID)))
	_, err = reader.LatestReport(ctx, inc.ID)
	assert.ErrorIs(t, err, ai.ErrReportConflict)
}

func TestAnalyze_FailureBeforeCacheWriteIsNotMasked(t *testing.T) {
	base := setupStore(t)
	ca, mr := setupCache(t)
	inc := seedIncident(t, base, "1.2.3.4", 1)
	ctx := context.Background()

	bad := ai.NewAnalyzer(mock.NewReplyProvider("not json"), base, ca, nil, 0, time.Minute)
	racing := &interleavingStore{Store: base}
	racing.afterWrite = func() {
		_, err := bad.Analyze(ctx, inc.ID)
		require.ErrorIs(t, err, ai.ErrGenerationFailed)
	}
	good := ai.NewAnalyzer(mock.NewMockProvider(), racing, ca, nil, 0, time.Minute)

	_, err := good.Analyze(ctx, inc.ID)
	require.NoError(t, err)

	assert.False(t, mr.Exists(cache.ReportKey(inc.ID)))
	_, err = good.LatestReport(ctx, inc.ID)
	assert.ErrorIs(t, err, ai.ErrReportConflict)
}

func TestLatestReport_CorruptCacheEntryFallsBackToStore(t *testing.T) {
	s := setupStore(t)
	ca, mr := setupCache(t)
	inc := seedIncident(t, s, "1.2.3.4", 1)
	ctx := context.Background()

	a := ai.NewAnalyzer(mock.NewMockProvider(), s, ca, nil, 0, time.Minute)
	want, err := a.Analyze(ctx, inc.ID)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cache.ReportKey(inc.ID), "{broken"))

	got, err := a.LatestReport(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := mr.Get(cache.ReportKey(inc.ID))
	require.NoError(t, err)
	assert.NotEqual(t, "{broken", raw)
}

// --- GenerationError ---

func TestGenerationError(t *testing.T) {
	cause := errors.New("missing key: summary")
	err := &ai.GenerationError{Cause: cause, CorrelationID: "abc"}

	assert.Equal(t, "AI generation failed: missing key: summary. correlation_id=abc", err.Error())
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.ErrorIs(t, err, cause)
}
