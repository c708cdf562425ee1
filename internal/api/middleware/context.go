package middleware

import (
	"net"
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/requestid"
)

// CorrelationID propagates the inbound X-Correlation-ID header or generates a
// new id, echoes it on the response and stores it in the request context.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestid.Header)
		if id == "" {
			id = requestid.New()
		}
		w.Header().Set(requestid.Header, id)
		next.ServeHTTP(w, r.WithContext(requestid.NewContext(r.Context(), id)))
	})
}

// GetCorrelationID returns the correlation id set by CorrelationID.
func GetCorrelationID(r *http.Request) string {
	return requestid.FromContext(r.Context())
}

// ClientIP returns the host part of r.RemoteAddr, or "" when it is unknown.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP rewrites RemoteAddr to a bare address.
		return r.RemoteAddr
	}
	return host
}
