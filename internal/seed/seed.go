// Package seed generates synthetic decoy traffic for demos and local testing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/kiranshivaraju/honeykey/internal/incident"
	"github.com/kiranshivaraju/honeykey/internal/requestid"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// Recorder persists one event per synthetic request.
type Recorder interface {
	Record(ctx context.Context, info incident.RequestInfo) (*models.Event, error)
}

// Options controls the generated traffic.
type Options struct {
	Count int
	// HoneypotRatio is the fraction of requests presenting the honeypot key, in [0, 1].
	HoneypotRatio float64
	// Attackers is the number of distinct source IPs that use the honeypot key.
	Attackers int
	Start     time.Time
	// MaxGap bounds the random delay between consecutive requests.
	MaxGap time.Duration
	// Seed makes the generated traffic reproducible. Zero picks a random seed.
	Seed int64
}

// Summary reports what Run produced.
type Summary struct {
	Events         int
	HoneypotEvents int
	Incidents      int
}

var decoyRoutes = []struct{ method, path string }{
	{"GET", "/v1/projects"},
	{"GET", "/v1/secrets"},
	{"POST", "/v1/auth/verify"},
}

// Run records opts.Count synthetic requests in chronological order.
func Run(ctx context.Context, rec Recorder, opts Options) (Summary, error) {
	if opts.Count <= 0 {
		return Summary{}, errors.New("count must be positive")
	}
	if opts.HoneypotRatio < 0 || opts.HoneypotRatio > 1 {
		return Summary{}, fmt.Errorf("honeypot ratio must be within [0, 1], got %v", opts.HoneypotRatio)
	}
	if opts.Attackers <= 0 {
		opts.Attackers = 3
	}
	if opts.MaxGap <= 0 {
		opts.MaxGap = 2 * time.Minute
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Add(-time.Duration(opts.Count) * opts.MaxGap / 2)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	gapMillis := int(opts.MaxGap / time.Millisecond)
	if gapMillis < 1 {
		gapMillis = 1
	}

	attackers := make([]string, opts.Attackers)
	for i := range attackers {
		attackers[i] = faker.IPv4Address()
	}

	var sum Summary
	incidents := map[int64]struct{}{}
	ts := opts.Start
	for i := 0; i < opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ts = ts.Add(time.Duration(faker.Number(1, gapMillis)) * time.Millisecond)

		route := decoyRoutes[faker.Number(0, len(decoyRoutes)-1)]
		ua := faker.UserAgent()
		info := incident.RequestInfo{
			Timestamp:     ts,
			Method:        route.method,
			Path:          route.path,
			UserAgent:     &ua,
			CorrelationID: requestid.New(),
		}

		if faker.Float64Range(0, 1) < opts.HoneypotRatio {
			ip := attackers[faker.Number(0, len(attackers)-1)]
			info.SourceIP = &ip
			info.AuthPresent = true
			info.HoneypotKeyUsed = true
		} else {
			ip := faker.IPv4Address()
			info.SourceIP = &ip
			info.AuthPresent = faker.Bool()
		}

		ev, err := rec.Record(ctx, info)
		if err != nil {
			return sum, fmt.Errorf("recording event %d: %w", i+1, err)
		}
		sum.Events++
		if ev.HoneypotKeyUsed {
			sum.HoneypotEvents++
		}
		if ev.IncidentID != nil {
			incidents[*ev.IncidentID] = struct{}{}
		}
	}
	sum.Incidents = len(incidents)
	return sum, nil
}
