// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RetryAfterSeconds is advertised on retryable conflict responses.
const RetryAfterSeconds = "1"

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.ErrNotFound:
		return http.StatusNotFound
	case shared.ErrValidation:
		return http.StatusBadRequest
	case shared.ErrInsufficientStock, shared.ErrInsufficientAvailableStock,
		shared.ErrOverApproval, shared.ErrEmptyTransfer, shared.ErrNoCandidates:
		return http.StatusUnprocessableEntity
	case shared.ErrNotACandidate:
		return http.StatusForbidden
	case shared.ErrAlreadyDecided, shared.ErrInvalidState, shared.ErrConflict:
		return http.StatusConflict
	case shared.ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := shared.KindOf(err)
	problem := ProblemDetail{
		Type:   "urn:odyssey-stock:error:" + shared.KindCode(kind),
		Title:  http.StatusText(status),
		Status: status,
		Kind:   shared.KindCode(kind),
		Detail: shared.UserSafeMessage(err),
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		problem.Entity = domainErr.Entity
		problem.Ref = domainErr.Ref
	}
	if shared.Retryable(err) {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	writeProblem(w, problem)
}
