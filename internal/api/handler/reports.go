package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/internal/api/response"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// ReportService defines the interface the report handlers depend on.
type ReportService interface {
	Analyze(ctx context.Context, incidentID int64) (*models.Report, error)
	LatestReport(ctx context.Context, incidentID int64) (*models.Report, error)
	History(ctx context.Context, incidentID int64) ([]*models.AIReport, error)
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /incidents/{incidentID}/analyze.
func NewAnalyzeHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := incidentID(w, r)
		if !ok {
			return
		}

		report, err := svc.Analyze(r.Context(), id)
		if err != nil {
			var genErr *ai.GenerationError
			switch {
			case errors.Is(err, ai.ErrConfigurationMissing):
				response.Error(w, http.StatusBadRequest, "AI_NOT_CONFIGURED",
					"An AI provider credential is required to analyze incidents", nil)
			case errors.Is(err, ai.ErrIncidentNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
			case errors.As(err, &genErr):
				response.Error(w, http.StatusBadGateway, "AI_GENERATION_FAILED", genErr.Error(),
					map[string]string{"correlation_id": genErr.CorrelationID})
			default:
				internalError(w, r, "analyzing incident", err)
			}
			return
		}

		response.JSON(w, report)
	}
}

// NewLatestReportHandler returns an http.HandlerFunc for GET /incidents/{incidentID}/ai-report.
func NewLatestReportHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := incidentID(w, r)
		if !ok {
			return
		}

		report, err := svc.LatestReport(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, ai.ErrReportNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "AI report not found", nil)
			case errors.Is(err, ai.ErrReportConflict):
				response.Error(w, http.StatusConflict, "REPORT_PARSE_FAILED", "Latest AI report failed to parse", nil)
			default:
				internalError(w, r, "loading ai report", err)
			}
			return
		}

		response.JSON(w, report)
	}
}

// NewReportHistoryHandler returns an http.HandlerFunc for GET /incidents/{incidentID}/ai-reports.
func NewReportHistoryHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := incidentID(w, r)
		if !ok {
			return
		}

		reports, err := svc.History(r.Context(), id)
		if err != nil {
			internalError(w, r, "listing ai reports", err)
			return
		}
		response.JSON(w, reports)
	}
}
