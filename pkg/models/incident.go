package models

import "time"

// Event is a single observed HTTP request. Events are written once and never changed.
type Event struct {
	ID              int64     `json:"id" db:"id"`
	Timestamp       time.Time `json:"ts" db:"ts"`
	SourceIP        *string   `json:"ip" db:"ip"`
	Method          string    `json:"method" db:"method"`
	Path            string    `json:"path" db:"path"`
	UserAgent       *string   `json:"user_agent" db:"user_agent"`
	CorrelationID   string    `json:"correlation_id" db:"correlation_id"`
	AuthPresent     bool      `json:"auth_present" db:"auth_present"`
	HoneypotKeyUsed bool      `json:"honeypot_key_used" db:"honeypot_key_used"`
	IncidentID      *int64    `json:"incident_id" db:"incident_id"`
}

// Incident groups honeypot-credential events from one source IP for one key.
type Incident struct {
	ID         int64     `json:"id" db:"id"`
	KeyID      string    `json:"key_id" db:"key_id"`
	SourceIP   string    `json:"source_ip" db:"source_ip"`
	FirstSeen  time.Time `json:"first_seen" db:"first_seen"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
	EventCount int       `json:"event_count" db:"event_count"`
}
