package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/honeykey/internal/api/middleware"
	"github.com/kiranshivaraju/honeykey/internal/api/response"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// IncidentReader defines the read operations the incident handlers depend on.
type IncidentReader interface {
	ListIncidents(ctx context.Context) ([]*models.Incident, error)
	GetIncident(ctx context.Context, id int64) (*models.Incident, error)
	ListEvents(ctx context.Context, incidentID int64, limit int) ([]*models.Event, error)
}

// NewListIncidentsHandler returns an http.HandlerFunc for GET /incidents.
func NewListIncidentsHandler(s IncidentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		incidents, err := s.ListIncidents(r.Context())
		if err != nil {
			internalError(w, r, "listing incidents", err)
			return
		}
		response.JSON(w, incidents)
	}
}

// NewGetIncidentHandler returns an http.HandlerFunc for GET /incidents/{incidentID}.
func NewGetIncidentHandler(s IncidentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := incidentID(w, r)
		if !ok {
			return
		}

		inc, err := s.GetIncident(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
				return
			}
			internalError(w, r, "getting incident", err)
			return
		}
		response.JSON(w, inc)
	}
}

// NewListEventsHandler returns an http.HandlerFunc for GET /incidents/{incidentID}/events.
// Unknown incidents yield an empty list.
func NewListEventsHandler(s IncidentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := incidentID(w, r)
		if !ok {
			return
		}

		events, err := s.ListEvents(r.Context(), id, 0)
		if err != nil {
			internalError(w, r, "listing events", err)
			return
		}
		response.JSON(w, events)
	}
}

// incidentID parses the {incidentID} URL parameter, writing a 400 when it is not an integer.
func incidentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "incidentID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "incident id must be an integer", nil)
		return 0, false
	}
	return id, true
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op+" failed", "error", err, "correlation_id", mw.GetCorrelationID(r))
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
