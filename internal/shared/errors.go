package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared by every stock module. Callers match them with errors.Is.
var (
	// ErrNotFound indicates a missing entity, batch or approval.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock occurs when a batch cannot cover a decrement.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientAvailableStock occurs when unreserved stock cannot cover a reservation.
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	// ErrOverApproval occurs when an approved quantity exceeds the requested quantity.
	ErrOverApproval = errors.New("approved quantity exceeds requested quantity")
	// ErrEmptyTransfer occurs when submitting a transfer without items.
	ErrEmptyTransfer = errors.New("transfer has no items")
	// ErrNotACandidate occurs when the actor is not in the approval candidate snapshot.
	ErrNotACandidate = errors.New("actor is not an approval candidate")
	// ErrAlreadyDecided occurs when acting on an approval that is no longer pending.
	ErrAlreadyDecided = errors.New("approval already decided")
	// ErrNoCandidates occurs when no active approver covers the requested amount.
	ErrNoCandidates = errors.New("no approver covers the amount")
	// ErrInvalidState indicates an illegal workflow transition.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates lock contention or a serialization failure. Retryable.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrStorageUnavailable indicates the store of record could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var kinds = []error{
	ErrNotFound,
	ErrInsufficientStock,
	ErrInsufficientAvailableStock,
	ErrOverApproval,
	ErrEmptyTransfer,
	ErrNotACandidate,
	ErrAlreadyDecided,
	ErrNoCandidates,
	ErrInvalidState,
	ErrValidation,
	ErrConflict,
	ErrStorageUnavailable,
}

// DomainError carries an error kind together with the offending identity so callers
// can tell which batch, item or approval rejected the operation.
type DomainError struct {
	Kind   error
	Entity string
	Ref    string
	Detail string
	Err    error
}

// NewError builds a DomainError for the given kind and entity reference.
func NewError(kind error, entity, ref, detail string) *DomainError {
	return &DomainError{Kind: kind, Entity: entity, Ref: ref, Detail: detail}
}

// Errorf builds a DomainError with a formatted detail message.
func Errorf(kind error, entity, ref, format string, args ...any) *DomainError {
	return NewError(kind, entity, ref, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return &DomainError{Kind: kind, Err: err}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.Ref != "" {
			b.WriteString(" ")
			b.WriteString(e.Ref)
		}
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the wrapped cause.
func (e *DomainError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the first known kind found in the error chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindCode returns a stable snake_case code for the error kind.
func KindCode(kind error) string {
	switch kind {
	case ErrNotFound:
		return "not_found"
	case ErrInsufficientStock:
		return "insufficient_stock"
	case ErrInsufficientAvailableStock:
		return "insufficient_available_stock"
	case ErrOverApproval:
		return "over_approval"
	case ErrEmptyTransfer:
		return "empty_transfer"
	case ErrNotACandidate:
		return "not_a_candidate"
	case ErrAlreadyDecided:
		return "already_decided"
	case ErrNoCandidates:
		return "no_candidates"
	case ErrInvalidState:
		return "invalid_state"
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrStorageUnavailable:
		return "storage_unavailable"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller is expected to retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Err == nil {
		return domainErr.Error()
	}
	if kind := KindOf(err); kind != nil {
		if kind == ErrStorageUnavailable {
			return "storage temporarily unavailable"
		}
		return kind.Error()
	}
	return "internal error"
}
