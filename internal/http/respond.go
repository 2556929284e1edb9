package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/idempotency"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrInvalidInput)
	}
	return nil
}

// statusFor maps domain errors to HTTP codes. ErrInconsistent is checked first
// because it wraps the original cause.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInconsistent):
		return http.StatusInternalServerError, "booking could not be completed, support has been notified"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest, "payment verification failed"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrSlotUnavailable):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProviderError):
		return http.StatusBadGateway, "payment provider unavailable, try again"
	case errors.Is(err, domain.ErrSerializationFailure), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict, try again"
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, fallback observability.Logger, err error) {
	status, msg := statusFor(err)
	log := observability.LoggerFrom(r.Context(), fallback).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}
