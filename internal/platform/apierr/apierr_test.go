package apierr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apierr.ErrValidation, http.StatusBadRequest},
		{"auth", apierr.ErrAuth, http.StatusUnauthorized},
		{"forbidden", apierr.ErrForbidden, http.StatusForbidden},
		{"conflict", apierr.ErrConflict, http.StatusConflict},
		{"integrity", apierr.ErrIntegrity, http.StatusBadRequest},
		{"not found", apierr.ErrNotFound, http.StatusNotFound},
		{"transient", apierr.ErrTransient, http.StatusServiceUnavailable},
		{"poison falls back to internal", apierr.ErrPoison, http.StatusInternalServerError},
		{"projector falls back to internal", apierr.ErrProjector, http.StatusInternalServerError},
		{"unrecognized error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apierr.HTTPStatus(tc.err))
		})
	}
}

func TestHTTPStatus_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("invalid world_id: %w", apierr.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, apierr.HTTPStatus(wrapped))
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", apierr.ErrValidation, "validation_error"},
		{"auth", apierr.ErrAuth, "auth_error"},
		{"forbidden", apierr.ErrForbidden, "forbidden"},
		{"conflict", apierr.ErrConflict, "conflict"},
		{"integrity", apierr.ErrIntegrity, "integrity_error"},
		{"not found", apierr.ErrNotFound, "not_found"},
		{"transient", apierr.ErrTransient, "transient_error"},
		{"poison", apierr.ErrPoison, "poison_error"},
		{"projector", apierr.ErrProjector, "projector_error"},
		{"unrecognized", errors.New("boom"), "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apierr.Code(tc.err))
		})
	}
}
