package app

import (
	"errors"
	"fmt"
	"net/http"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/authpw"
	"orderdesk/api/internal/flow"
	"orderdesk/api/internal/org"
	"orderdesk/api/internal/store"
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

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters only where sentinels wrap one another.
var sentinelErrors = []errorMapping{
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found"},
	{store.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden"},
	{store.ErrInvitationExpired, http.StatusGone, "INVITATION_EXPIRED", "Invitation expired"},
	{store.ErrAlreadyMember, http.StatusConflict, "ALREADY_MEMBER", "User already belongs to an organization"},
	{store.ErrSlugTaken, http.StatusConflict, "SLUG_TAKEN", "Organization slug already taken"},
	{store.ErrDuplicateRequest, http.StatusConflict, "DUPLICATE_REQUEST", "A pending join request already exists"},
	{store.ErrDuplicateInvitation, http.StatusConflict, "DUPLICATE_INVITATION", "A pending invitation already exists for this email"},
	{store.ErrSKUTaken, http.StatusConflict, "SKU_TAKEN", "Product SKU already exists"},
	{store.ErrInsufficientStock, http.StatusConflict, "INSUFFICIENT_STOCK", "Insufficient stock"},
	{store.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", "Invalid order status transition"},
	{store.ErrInvalidStatus, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid status"},
	{store.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN", "Email already registered"},
	{authpw.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN", "Email already registered"},
	{authpw.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{authpw.ErrEmailNotVerified, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in"},
	{authpw.ErrInvalidToken, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token"},
	{flow.ErrMutationInFlight, http.StatusConflict, "MUTATION_IN_PROGRESS", "Another onboarding action is in progress"},
	{flow.ErrClosed, http.StatusUnauthorized, "UNAUTHORIZED", "Session ended"},
	{org.ErrUserNotFound, http.StatusInternalServerError, "USER_NOT_FOUND", "User record not found"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if auth.IsUnauthenticated(err) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	// A resolution failure may wrap store sentinels; it is reported as one.
	var resErr *org.ResolutionError
	if errors.As(err, &resErr) {
		return http.StatusServiceUnavailable, "RESOLUTION_FAILED", resErr.Error(), nil
	}
	if errors.Is(err, authpw.ErrValidation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	for _, m := range sentinelErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
