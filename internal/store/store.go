package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// WithTx runs fn inside a single write transaction. fn's error rolls it back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateEvent(ctx context.Context, ev *models.Event) error
	// ListEvents returns events for an incident, newest first. limit <= 0 means no limit.
	ListEvents(ctx context.Context, incidentID int64, limit int) ([]*models.Event, error)

	ListIncidents(ctx context.Context) ([]*models.Incident, error)
	GetIncident(ctx context.Context, id int64) (*models.Incident, error)

	CreateAIReport(ctx context.Context, report *models.AIReport) error
	GetLatestAIReport(ctx context.Context, incidentID int64) (*models.AIReport, error)
	ListAIReports(ctx context.Context, incidentID int64) ([]*models.AIReport, error)
}

// Tx holds the operations incident correlation needs to run atomically.
type Tx interface {
	// LockSource serializes correlation for one (key id, source IP) pair until the transaction ends.
	LockSource(ctx context.Context, keyID, sourceIP string) error
	// FindOpenIncident returns the most recently seen incident for the pair with
	// last_seen >= since, or ErrNotFound.
	FindOpenIncident(ctx context.Context, keyID, sourceIP string, since time.Time) (*models.Incident, error)
	// TouchIncident advances last_seen to seenAt (never backwards) and increments
	// event_count, returning the updated row.
	TouchIncident(ctx context.Context, id int64, seenAt time.Time) (*models.Incident, error)
	CreateIncident(ctx context.Context, incident *models.Incident) error
	CreateEvent(ctx context.Context, ev *models.Event) error
}
