package aireport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

const promptPreamble = "You are a SOC analyst. Summarize this incident for a report. " +
	"Return ONLY valid JSON. No markdown. No code fences. " +
	"Required keys: incident_id (int), severity (string), summary (string), " +
	"evidence (list of strings), recommended_actions (list of strings). "

// promptEvent is the subset of an event the model sees.
type promptEvent struct {
	Timestamp       time.Time `json:"ts"`
	SourceIP        *string   `json:"ip"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	UserAgent       *string   `json:"user_agent"`
	CorrelationID   string    `json:"correlation_id"`
	AuthPresent     bool      `json:"auth_present"`
	HoneypotKeyUsed bool      `json:"honeypot_key_used"`
}

// BuildPrompt renders the analysis prompt for an incident and its recent events.
// The output depends only on its inputs.
func BuildPrompt(incident *models.Incident, events []*models.Event) (string, error) {
	incidentJSON, err := json.Marshal(incident)
	if err != nil {
		return "", fmt.Errorf("marshal incident: %w", err)
	}

	payload := make([]promptEvent, 0, len(events))
	for _, ev := range events {
		payload = append(payload, promptEvent{
			Timestamp:       ev.Timestamp,
			SourceIP:        ev.SourceIP,
			Method:          ev.Method,
			Path:            ev.Path,
			UserAgent:       ev.UserAgent,
			CorrelationID:   ev.CorrelationID,
			AuthPresent:     ev.AuthPresent,
			HoneypotKeyUsed: ev.HoneypotKeyUsed,
		})
	}
	eventsJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "Incident: %s. ", incidentJSON)
	fmt.Fprintf(&b, "Recent events: %s.", eventsJSON)
	return b.String(), nil
}
