package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/honeykey/internal/cache"
	"github.com/kiranshivaraju/honeykey/internal/metrics"
	"github.com/kiranshivaraju/honeykey/internal/notify"
	"github.com/kiranshivaraju/honeykey/internal/requestid"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/aireport"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// PromptEventLimit is how many of an incident's most recent events go into the prompt.
const PromptEventLimit = 25

const maxErrorLen = 2000

// Analyzer generates incident reports with an AI provider and serves the stored results.
type Analyzer struct {
	provider models.AIProvider
	store    store.Store
	cache    cache.Cache
	notifier *notify.Notifier
	timeout  time.Duration
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAnalyzer creates an Analyzer. provider may be nil, in which case Analyze
// reports ErrConfigurationMissing. A zero timeout leaves the provider call unbounded.
func NewAnalyzer(provider models.AIProvider, st store.Store, ca cache.Cache, n *notify.Notifier, timeout, cacheTTL time.Duration) *Analyzer {
	if ca == nil {
		ca = cache.Noop{}
	}
	if n == nil {
		n = notify.New(nil, "")
	}
	return &Analyzer{
		provider: provider,
		store:    st,
		cache:    ca,
		notifier: n,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether a provider is available.
func (a *Analyzer) Configured() bool { return a.provider != nil }

// Analyze builds a prompt from the incident and its recent events, asks the
// provider for a report and stores the outcome. Every provider, extraction or
// validation failure is persisted as a parse_ok=false row and returned as a
// *GenerationError.
func (a *Analyzer) Analyze(ctx context.Context, incidentID int64) (*models.Report, error) {
	if a.provider == nil {
		metrics.AnalyzeTotal.WithLabelValues("not_configured").Inc()
		return nil, ErrConfigurationMissing
	}

	incident, err := a.store.GetIncident(ctx, incidentID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.AnalyzeTotal.WithLabelValues("not_found").Inc()
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		metrics.AnalyzeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading incident: %w", err)
	}

	events, err := a.store.ListEvents(ctx, incidentID, PromptEventLimit)
	if err != nil {
		metrics.AnalyzeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading events: %w", err)
	}

	prompt, err := aireport.BuildPrompt(incident, events)
	if err != nil {
		metrics.AnalyzeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, a.fail(ctx, incidentID, text, err)
	}

	report, err := aireport.Parse(text, incidentID)
	if err != nil {
		return nil, a.fail(ctx, incidentID, text, err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		metrics.AnalyzeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	stored := string(payload)

	row := &models.AIReport{
		IncidentID: incidentID,
		CreatedAt:  a.now(),
		Provider:   a.provider.Name(),
		Model:      a.provider.Model(),
		ReportJSON: &stored,
		ParseOK:    true,
	}
	if err := a.store.CreateAIReport(ctx, row); err != nil {
		metrics.AnalyzeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("storing report: %w", err)
	}

	a.cacheIfLatest(ctx, incidentID, row.ID, payload)
	a.notifier.ReportCreated(ctx, row, &report)
	metrics.AnalyzeTotal.WithLabelValues("success").Inc()

	return &report, nil
}

// generate calls the provider with the configured timeout, turning a panic into an error.
func (a *Analyzer) generate(ctx context.Context, prompt string) (text string, err error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.GenerateDuration.WithLabelValues(a.provider.Name()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			slog.Error("panic in ai provider", "provider", a.provider.Name(), "error", r)
			text, err = "", fmt.Errorf("provider panic: %v", r)
		}
	}()

	text, err = a.provider.Generate(ctx, prompt)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
		err = fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return text, err
}

// fail records a failed generation and returns the error the caller sees.
func (a *Analyzer) fail(ctx context.Context, incidentID int64, raw string, cause error) error {
	correlationID := requestid.FromContext(ctx)
	if correlationID == "" {
		correlationID = "unknown"
	}

	msg := truncateString(cause.Error(), maxErrorLen)
	row := &models.AIReport{
		IncidentID: incidentID,
		CreatedAt:  a.now(),
		Provider:   a.provider.Name(),
		Model:      a.provider.Model(),
		ParseOK:    false,
		Error:      &msg,
	}
	if raw != "" {
		row.ReportJSON = &raw
	}

	if err := a.store.CreateAIReport(ctx, row); err != nil {
		slog.Error("storing failed ai report", "incident_id", incidentID, "correlation_id", correlationID, "error", err)
	}
	a.invalidate(ctx, incidentID)
	a.notifier.ReportFailed(ctx, row)
	metrics.AnalyzeTotal.WithLabelValues("generation_failed").Inc()

	slog.Warn("ai generation failed",
		"incident_id", incidentID,
		"provider", a.provider.Name(),
		"correlation_id", correlationID,
		"error", cause,
	)
	return &GenerationError{Cause: cause, CorrelationID: correlationID}
}

// LatestReport returns the most recently stored report for an incident.
// It returns ErrReportNotFound when none exists and ErrReportConflict when the
// latest attempt failed to parse.
func (a *Analyzer) LatestReport(ctx context.Context, incidentID int64) (*models.Report, error) {
	key := cache.ReportKey(incidentID)
	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		slog.Warn("reading cached report failed", "incident_id", incidentID, "error", err)
	} else if ok {
		var report models.Report
		if err := json.Unmarshal(cached, &report); err == nil {
			return &report, nil
		}
		a.invalidate(ctx, incidentID)
	}

	row, err := a.store.GetLatestAIReport(ctx, incidentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest report: %w", err)
	}
	if !row.ParseOK {
		return nil, ErrReportConflict
	}
	if row.ReportJSON == nil {
		return nil, fmt.Errorf("report %d: parse_ok row has no payload", row.ID)
	}

	var report models.Report
	if err := json.Unmarshal([]byte(*row.ReportJSON), &report); err != nil {
		return nil, fmt.Errorf("decoding stored report %d: %w", row.ID, err)
	}

	a.cacheIfLatest(ctx, incidentID, row.ID, []byte(*row.ReportJSON))
	return &report, nil
}

// cacheIfLatest caches payload as the latest report of the incident, then
// re-reads the newest row. If a newer attempt landed in between, the entry is
// dropped again so a stale success cannot outlive a newer failure.
//
// fail inserts its row before deleting the key, so whichever order the Set and
// that Delete run in, one of the two removes the stale entry.
func (a *Analyzer) cacheIfLatest(ctx context.Context, incidentID, rowID int64, payload []byte) {
	if _, disabled := a.cache.(cache.Noop); disabled {
		return
	}
	if err := a.cache.Set(ctx, cache.ReportKey(incidentID), payload, a.cacheTTL); err != nil {
		slog.Warn("caching report failed", "incident_id", incidentID, "error", err)
		return
	}

	latest, err := a.store.GetLatestAIReport(ctx, incidentID)
	if err != nil || latest.ID != rowID {
		if err != nil {
			slog.Warn("rechecking latest report failed", "incident_id", incidentID, "error", err)
		}
		a.invalidate(ctx, incidentID)
	}
}

func (a *Analyzer) invalidate(ctx context.Context, incidentID int64) {
	if err := a.cache.Delete(ctx, cache.ReportKey(incidentID)); err != nil {
		slog.Warn("invalidating cached report failed", "incident_id", incidentID, "error", err)
	}
}

// History returns every stored generation attempt for an incident, newest first.
func (a *Analyzer) History(ctx context.Context, incidentID int64) ([]*models.AIReport, error) {
	reports, err := a.store.ListAIReports(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return reports, nil
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
