// Package models contains shared data models used across the HoneyKey codebase.
package models

import (
	"context"
	"time"
)

// AIProvider is the core interface that all AI integrations must implement.
// Never call specific AI providers directly; always inject this interface.
type AIProvider interface {
	// Generate sends a single prompt and returns the raw text reply.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
	// Model returns the model the provider sends prompts to.
	Model() string
}

// AIReport is one persisted analyze attempt, successful or not.
type AIReport struct {
	ID         int64     `json:"id" db:"id"`
	IncidentID int64     `json:"incident_id" db:"incident_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	Provider   string    `json:"provider" db:"provider"`
	Model      string    `json:"model" db:"model"`
	ReportJSON *string   `json:"report_json,omitempty" db:"report_json"`
	ParseOK    bool      `json:"parse_ok" db:"parse_ok"`
	Error      *string   `json:"error,omitempty" db:"error"`
}

// Report is the validated structured output of an incident analysis.
// Field order is the canonical serialization order.
type Report struct {
	IncidentID         int64    `json:"incident_id"`
	Severity           string   `json:"severity"`
	Summary            string   `json:"summary"`
	Evidence           []string `json:"evidence"`
	RecommendedActions []string `json:"recommended_actions"`
}
