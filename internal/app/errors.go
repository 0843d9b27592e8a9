package app

import (
	"errors"
	"fmt"
	"net/http"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/auth"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/export"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, notes.ErrDuplicateNote):
		return http.StatusConflict, "DUPLICATE_NOTE", "An equivalent note is already active", nil
	case errors.Is(err, notes.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, assistant.ErrQuestionClosed):
		return http.StatusConflict, "QUESTION_CLOSED", "Question already answered", nil
	case errors.Is(err, assistant.ErrInvalidInput),
		errors.Is(err, comms.ErrMalformedPayload),
		errors.Is(err, syncer.ErrUnknownProvider),
		errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, assistant.ErrAnswerUnavailable):
		return http.StatusBadGateway, "ASSISTANT_UNAVAILABLE", "Assistant is unavailable, please try again", nil
	case errors.Is(err, syncer.ErrSyncInProgress):
		return http.StatusConflict, "SYNC_IN_PROGRESS", "sync already in progress", nil
	case errors.Is(err, identity.ErrAmbiguousIdentity):
		return http.StatusConflict, "AMBIGUOUS_IDENTITY", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
