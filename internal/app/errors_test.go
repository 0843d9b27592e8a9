package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/auth"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain error", err: validationError("bad"), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "duplicate note", err: fmt.Errorf("insert: %w", notes.ErrDuplicateNote), status: http.StatusConflict, code: "DUPLICATE_NOTE"},
		{name: "malformed payload", err: fmt.Errorf("%w: sms: empty body", comms.ErrMalformedPayload), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "invalid input", err: assistant.ErrInvalidInput, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "ambiguous identity", err: identity.ErrAmbiguousIdentity, status: http.StatusConflict, code: "AMBIGUOUS_IDENTITY"},
		{name: "expired token", err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "unknown", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, status, code)
			}
		})
	}
}
