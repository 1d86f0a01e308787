package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/peep-runtime/pkg/logs"
	"github.com/splax/peep-runtime/pkg/runtime"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps lifecycle errors to HTTP status codes. Protocol misuse is
// a conflict with the deployment's current state.
func statusForError(err error) int {
	switch {
	case errors.Is(err, runtime.ErrAlreadyTaken),
		errors.Is(err, runtime.ErrNotLoaded),
		errors.Is(err, runtime.ErrNotRunning),
		errors.Is(err, logs.ErrAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, runtime.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
