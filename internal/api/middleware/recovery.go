package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/honeykey/internal/api/response"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR response. It sits
// inside the Observer so a panicking request is still recorded as an event.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			slog.Error("handler panic",
				"panic", rv,
				"route", r.Method+" "+r.URL.Path,
				"correlation_id", GetCorrelationID(r),
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
