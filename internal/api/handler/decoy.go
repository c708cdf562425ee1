package handler

import (
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/api/response"
)

// NewDecoyHandler returns a handler for the fake API surface. It always
// rejects the caller; the Observer middleware does the actual work.
func NewDecoyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
}
