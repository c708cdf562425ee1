// Package notify publishes incident and report lifecycle events to a message bus.
// Delivery is best-effort: failures are logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/honeykey/internal/requestid"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// Subject suffixes, appended to the configured prefix.
// Follow the pattern: {resource}.{action}
const (
	SubjectIncidentsOpened  = "incidents.opened"
	SubjectIncidentsUpdated = "incidents.updated"
	SubjectReportsCreated   = "reports.created"
	SubjectReportsFailed    = "reports.failed"
)

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// IncidentMessage is the body of incidents.* messages.
type IncidentMessage struct {
	Incident      *models.Incident `json:"incident"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

// ReportMessage is the body of reports.* messages.
type ReportMessage struct {
	IncidentID    int64          `json:"incident_id"`
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	Report        *models.Report `json:"report,omitempty"`
	Error         string         `json:"error,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Notifier turns domain events into messages on "<prefix>.<subject>".
type Notifier struct {
	pub    Publisher
	prefix string
}

// New creates a Notifier. A nil Publisher is replaced with Nop.
func New(pub Publisher, prefix string) *Notifier {
	if pub == nil {
		pub = Nop{}
	}
	return &Notifier{pub: pub, prefix: prefix}
}

// Subject returns the fully qualified subject for a suffix.
func (n *Notifier) Subject(suffix string) string {
	if n.prefix == "" {
		return suffix
	}
	return n.prefix + "." + suffix
}

func (n *Notifier) IncidentOpened(ctx context.Context, inc *models.Incident) {
	n.publish(ctx, SubjectIncidentsOpened, IncidentMessage{Incident: inc, CorrelationID: requestid.FromContext(ctx)})
}

func (n *Notifier) IncidentUpdated(ctx context.Context, inc *models.Incident) {
	n.publish(ctx, SubjectIncidentsUpdated, IncidentMessage{Incident: inc, CorrelationID: requestid.FromContext(ctx)})
}

func (n *Notifier) ReportCreated(ctx context.Context, row *models.AIReport, report *models.Report) {
	n.publish(ctx, SubjectReportsCreated, ReportMessage{
		IncidentID:    row.IncidentID,
		Provider:      row.Provider,
		Model:         row.Model,
		Report:        report,
		CorrelationID: requestid.FromContext(ctx),
		CreatedAt:     row.CreatedAt,
	})
}

func (n *Notifier) ReportFailed(ctx context.Context, row *models.AIReport) {
	msg := ReportMessage{
		IncidentID:    row.IncidentID,
		Provider:      row.Provider,
		Model:         row.Model,
		CorrelationID: requestid.FromContext(ctx),
		CreatedAt:     row.CreatedAt,
	}
	if row.Error != nil {
		msg.Error = *row.Error
	}
	n.publish(ctx, SubjectReportsFailed, msg)
}

func (n *Notifier) Close() error {
	return n.pub.Close()
}

func (n *Notifier) publish(ctx context.Context, suffix string, v any) {
	subject := n.Subject(suffix)
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal notification", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish notification failed", "subject", subject, "error", err)
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
