package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"upgradereg/internal/ledger"
)

const (
	kindRateLimited = "rate_limited"
	kindBadRequest  = "invalid_argument"
	kindNotFound    = "not_found"
)

// apiError carries the HTTP status and error kind for a failed request.
type apiError struct {
	Status int
	Kind   string
	Err    error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *apiError) Unwrap() error { return e.Err }

func badRequest(format string, args ...any) *apiError {
	return &apiError{Status: http.StatusBadRequest, Kind: kindBadRequest, Err: fmt.Errorf(format, args...)}
}

// statusOf maps a ledger error kind to its response status.
func statusOf(kind string) int {
	switch kind {
	case "not_owner", "not_factory", "unknown_account":
		return http.StatusForbidden
	case "already_replaced", "already_seeded", "no_snapshot":
		return http.StatusConflict
	case "underflow", "overflow", "insufficient_balance", "balance_overflow", "call_depth_exceeded":
		return http.StatusUnprocessableEntity
	case "unknown_entry_point", "unknown_contract", "unknown_code", kindNotFound:
		return http.StatusNotFound
	case kindBadRequest:
		return http.StatusBadRequest
	case kindRateLimited:
		return http.StatusTooManyRequests
	case "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	kind := ledger.ErrorKind(err)
	return &apiError{Status: statusOf(kind), Kind: kind, Err: err}
}

type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	ae := toAPIError(err)
	message := ae.Error()
	if ae.Status >= http.StatusInternalServerError {
		log.Error("request failed", "kind", ae.Kind, "error", err)
		if ae.Kind == "internal" {
			message = http.StatusText(ae.Status)
		}
	}
	writeJSON(w, ae.Status, ErrorResponse{Message: message, Kind: ae.Kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
