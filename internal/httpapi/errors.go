package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"chatd/internal/backend"
	"chatd/pkg/types"
)

// statusFor maps backend errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), backend.IsInvalidFileID(err):
		return http.StatusBadRequest
	case backend.IsFileNotFound(err), backend.IsModelNotFound(err):
		return http.StatusNotFound
	case backend.IsModelNotLoaded(err):
		return http.StatusConflict
	case backend.IsTooBusy(err):
		return http.StatusTooManyRequests
	case errors.Is(err, backend.ErrBackendStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
