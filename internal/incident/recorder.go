package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kiranshivaraju/honeykey/internal/metrics"
	"github.com/kiranshivaraju/honeykey/internal/store"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// RequestInfo describes one completed HTTP request.
type RequestInfo struct {
	Timestamp       time.Time
	SourceIP        *string
	Method          string
	Path            string
	UserAgent       *string
	CorrelationID   string
	AuthPresent     bool
	HoneypotKeyUsed bool
}

// Recorder persists one Event per request and correlates honeypot hits.
type Recorder struct {
	store      store.Store
	correlator *Correlator
	keyID      string
}

// NewRecorder creates a Recorder attributing honeypot hits to keyID.
func NewRecorder(s store.Store, c *Correlator, keyID string) *Recorder {
	return &Recorder{store: s, correlator: c, keyID: keyID}
}

// Record persists the event. When the honeypot key was used and the source IP
// is known, correlation and the event insert share one transaction.
//
// Failures are logged and counted here; callers on the request path may ignore
// the returned error.
func (r *Recorder) Record(ctx context.Context, info RequestInfo) (*models.Event, error) {
	ts := info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC().Truncate(time.Microsecond)

	ev := &models.Event{
		Timestamp:       ts,
		SourceIP:        info.SourceIP,
		Method:          info.Method,
		Path:            info.Path,
		UserAgent:       info.UserAgent,
		CorrelationID:   info.CorrelationID,
		AuthPresent:     info.AuthPresent,
		HoneypotKeyUsed: info.HoneypotKeyUsed,
	}

	var err error
	if ev.HoneypotKeyUsed && ev.SourceIP != nil {
		err = r.recordCorrelated(ctx, ev)
	} else {
		err = r.store.CreateEvent(ctx, ev)
	}
	if err != nil {
		metrics.RecorderFailuresTotal.Inc()
		slog.Error("record event failed",
			"error", err,
			"correlation_id", info.CorrelationID,
			"method", info.Method,
			"path", info.Path,
		)
		return nil, fmt.Errorf("record event: %w", err)
	}

	metrics.EventsRecordedTotal.WithLabelValues(strconv.FormatBool(ev.HoneypotKeyUsed)).Inc()
	return ev, nil
}

func (r *Recorder) recordCorrelated(ctx context.Context, ev *models.Event) error {
	var res Result
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = r.correlator.CorrelateTx(ctx, tx, *ev.SourceIP, r.keyID, ev.Timestamp)
		if err != nil {
			return err
		}
		id := res.Incident.ID
		ev.IncidentID = &id
		return tx.CreateEvent(ctx, ev)
	})
	if err != nil {
		ev.IncidentID = nil
		return err
	}

	r.correlator.Announce(ctx, res)
	return nil
}
