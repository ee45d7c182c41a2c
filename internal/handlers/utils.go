// Package handlers implements the HTTP and websocket endpoints of the party API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/songify/partyqueue/internal/logging"
	"github.com/songify/partyqueue/internal/models"
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/services"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest      = "bad_request"
	CodeValidation      = "validation_error"
	CodeInvalidVote     = "invalid_vote"
	CodePartyNotFound   = "party_not_found"
	CodeEntryNotFound   = "entry_not_found"
	CodeUnauthenticated = "unauthenticated"
	CodeUpstream        = "upstream_error"
	CodeUpstreamTimeout = "upstream_timeout"
	CodeInternal        = "internal_error"
)

// writeJSON serializes data as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with a machine-readable code.
// For server errors with a cause, use writeErrorWithCause.
func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message, Code: code})
}

// writeErrorWithCause writes an error response and logs the error with stack trace.
// 5xx causes are also reported to Sentry when a hub is attached to the request.
func writeErrorWithCause(ctx context.Context, w http.ResponseWriter, status int, message, code string, err error) {
	writeError(w, status, message, code)

	// Don't log 401/403 - handled by security event logging
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return
	}

	if status >= 400 && err != nil {
		wrappedErr := logging.WrapError(err, message)
		logging.LogErrorWithStatus(ctx, status, "error response", wrappedErr)
	}
	if status >= 500 && err != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			hub.CaptureException(err)
		}
	}
}

// writeDomainError maps errors from the party store and the session gateway
// to a status and error code.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var upErr *services.UpstreamError
	switch {
	case errors.Is(err, party.ErrPartyNotFound):
		logging.LogSecurityEvent(ctx, logging.SecurityEventUnknownParty, "unknown party code")
		writeError(w, http.StatusNotFound, "party not found", CodePartyNotFound)
	case errors.Is(err, party.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, "queue entry not found", CodeEntryNotFound)
	case errors.Is(err, party.ErrInvalidVote):
		writeError(w, http.StatusBadRequest, err.Error(), CodeInvalidVote)
	case errors.Is(err, services.ErrMissingQuery), errors.Is(err, services.ErrMissingCode):
		writeError(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, services.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated", CodeUnauthenticated)
	case errors.As(err, &upErr) && upErr.Timeout:
		writeErrorWithCause(ctx, w, http.StatusGatewayTimeout, "music service timed out", CodeUpstreamTimeout, err)
	case errors.Is(err, services.ErrUpstream):
		writeErrorWithCause(ctx, w, http.StatusBadGateway, "music service request failed", CodeUpstream, err)
	default:
		writeErrorWithCause(ctx, w, http.StatusInternalServerError, "internal error", CodeInternal, err)
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
