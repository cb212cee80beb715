// Package apierr defines the error taxonomy from spec §7 as comparable
// sentinel values, wrapped with context via fmt.Errorf("%w: ..."), following
// the sentinel-error pattern in abc-service's item_service.go
// (ErrItemNotFound, ErrInvalidInput, ErrInvalidTransition).
package apierr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation covers bad envelopes, bad UUIDs, missing by.agent,
	// malformed kind. Surfaced as 400 at the Gateway.
	ErrValidation = errors.New("validation error")
	// ErrAuth covers a missing or unrecognized API key. 401.
	ErrAuth = errors.New("auth error")
	// ErrForbidden covers a recognized key whose scope does not cover the
	// requested operation. 403.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers a duplicate idempotency key. 409.
	ErrConflict = errors.New("conflict error")
	// ErrIntegrity covers a payload hash mismatch at a projector. 400 at the
	// projector; a publisher-side delivery failure; eventually DLQ.
	ErrIntegrity = errors.New("integrity error")
	// ErrTransient covers database/network timeouts. Retried with backoff.
	ErrTransient = errors.New("transient error")
	// ErrPoison marks an event whose retry budget is exhausted.
	ErrPoison = errors.New("poison error")
	// ErrProjector covers a handler-raised error during lens application;
	// the lens transaction rolls back and the watermark is unchanged.
	ErrProjector = errors.New("projector error")
	// ErrNotFound covers a missing resource on a read path.
	ErrNotFound = errors.New("not found")
)

// HTTPStatus maps one of the sentinel errors above (or a value wrapping one
// of them) to the HTTP status code the spec assigns it. Unrecognized errors
// map to 500, matching spec §7's ProjectorError default of
// "retry, don't leak detail."
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code included in the
// {code, message} response body (spec §7).
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIntegrity):
		return "integrity_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient_error"
	case errors.Is(err, ErrPoison):
		return "poison_error"
	case errors.Is(err, ErrProjector):
		return "projector_error"
	default:
		return "internal_error"
	}
}
