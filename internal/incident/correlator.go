// Package incident records observed requests and folds honeypot hits into incidents.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/honeykey/internal/metrics"
	"github.com/kiranshivaraju/honeykey/internal/notify"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// DefaultWindow is how long an incident stays open after its last event.
const DefaultWindow = 30 * time.Minute

// Correlator decides whether a honeypot hit continues an open incident or starts a new one.
//
// An incident is open for (source IP, key id) when its last_seen is within the
// window before now. The most recently seen open incident is extended; otherwise
// a new one is created. Stale incidents are never reopened.
type Correlator struct {
	store    store.Store
	notifier *notify.Notifier
	window   time.Duration
}

// Result is the outcome of one correlation.
type Result struct {
	Incident *models.Incident
	Opened   bool
}

// NewCorrelator creates a Correlator. A non-positive window falls back to DefaultWindow.
func NewCorrelator(s store.Store, n *notify.Notifier, window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if n == nil {
		n = notify.New(nil, "")
	}
	return &Correlator{store: s, notifier: n, window: window}
}

// Window returns the configured correlation window.
func (c *Correlator) Window() time.Duration {
	return c.window
}

// Correlate runs the policy in its own transaction and returns the incident id.
func (c *Correlator) Correlate(ctx context.Context, sourceIP, keyID string, now time.Time) (int64, error) {
	var res Result
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = c.CorrelateTx(ctx, tx, sourceIP, keyID, now)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.Announce(ctx, res)
	return res.Incident.ID, nil
}

// CorrelateTx runs the policy inside an existing transaction. Callers must call
// Announce after the transaction commits.
func (c *Correlator) CorrelateTx(ctx context.Context, tx store.Tx, sourceIP, keyID string, now time.Time) (Result, error) {
	now = now.UTC().Truncate(time.Microsecond)

	if err := tx.LockSource(ctx, keyID, sourceIP); err != nil {
		return Result{}, err
	}

	open, err := tx.FindOpenIncident(ctx, keyID, sourceIP, now.Add(-c.window))
	switch {
	case err == nil:
		updated, err := tx.TouchIncident(ctx, open.ID, now)
		if err != nil {
			return Result{}, err
		}
		return Result{Incident: updated}, nil

	case errors.Is(err, store.ErrNotFound):
		inc := &models.Incident{
			KeyID:      keyID,
			SourceIP:   sourceIP,
			FirstSeen:  now,
			LastSeen:   now,
			EventCount: 1,
		}
		if err := tx.CreateIncident(ctx, inc); err != nil {
			return Result{}, err
		}
		return Result{Incident: inc, Opened: true}, nil

	default:
		return Result{}, fmt.Errorf("correlate %s: %w", sourceIP, err)
	}
}

// Announce publishes the outcome of a committed correlation.
func (c *Correlator) Announce(ctx context.Context, res Result) {
	if res.Incident == nil {
		return
	}
	if res.Opened {
		metrics.IncidentsOpenedTotal.Inc()
		c.notifier.IncidentOpened(ctx, res.Incident)
		return
	}
	metrics.IncidentsUpdatedTotal.Inc()
	c.notifier.IncidentUpdated(ctx, res.Incident)
}
