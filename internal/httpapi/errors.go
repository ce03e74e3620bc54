package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"clinicd/internal/manager"
	"clinicd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusOf maps a service error to a status code and client message.
// Errors without a status are 500 with a generic message.
func statusOf(err error) (int, string) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), he.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, manager.ErrTimeout.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     msg,
		Code:      status,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		loggerFrom(r).Error().Err(err).Msg("encode response")
	}
}
