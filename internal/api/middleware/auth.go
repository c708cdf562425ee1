package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/honeykey/internal/incident"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// EventRecorder persists one event per observed request.
type EventRecorder interface {
	Record(ctx context.Context, info incident.RequestInfo) (*models.Event, error)
}

// Observer inspects the Authorization header of every request for the
// honeypot credential and records the request once the response is written.
type Observer struct {
	recorder   EventRecorder
	credential *incident.Credential
	skip       map[string]bool
	now        func() time.Time
}

// NewObserver creates an Observer. Requests whose path is in skipPaths are not recorded.
func NewObserver(rec EventRecorder, cred *incident.Credential, skipPaths ...string) *Observer {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Observer{recorder: rec, credential: cred, skip: skip, now: time.Now}
}

// Observe records the request after next has handled it. Recording errors are
// handled by the recorder and never change the response.
func (o *Observer) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		info := incident.RequestInfo{
			Method:          r.Method,
			Path:            r.URL.Path,
			CorrelationID:   GetCorrelationID(r),
			AuthPresent:     authHeader != "",
			HoneypotKeyUsed: o.credential.Matches(incident.BearerToken(authHeader)),
		}
		if ip := ClientIP(r); ip != "" {
			info.SourceIP = &ip
		}
		if ua, ok := r.Header["User-Agent"]; ok && len(ua) > 0 {
			info.UserAgent = &ua[0]
		}

		next.ServeHTTP(w, r)

		info.Timestamp = o.now()
		_, _ = o.recorder.Record(context.WithoutCancel(r.Context()), info)
	})
}
