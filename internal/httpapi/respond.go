package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/router"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON writes v as the 200 response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the engines' sentinel errors onto HTTP status codes.
// Anything unrecognized gets the caller's fallback: handlers talking to
// upstream models pass 502, handlers talking to the local store pass 500.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, router.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrShardLocked):
		return http.StatusServiceUnavailable
	case errors.Is(err, memory.ErrCorrupted):
		return http.StatusInternalServerError
	default:
		return fallback
	}
}
