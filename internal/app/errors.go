package app

import (
	"errors"
	"fmt"
	"net/http"

	"folio/api/internal/auth"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
	"folio/api/internal/textdiff"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrBranchNameConflict  = errors.New("branch name already exists")
	ErrMainBranchProtected = errors.New("main branch is protected")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrArchiveDisabled     = errors.New("version archive is disabled")
)

// MergeFailedError reports a merge whose patch did not apply cleanly.
// Nothing is written when it is returned.
type MergeFailedError struct {
	SourceID string
	TargetID string
	Err      error
}

func (e *MergeFailedError) Error() string {
	return fmt.Sprintf("merge %s into %s failed: %v", e.SourceID, e.TargetID, e.Err)
}

func (e *MergeFailedError) Unwrap() error {
	return e.Err
}

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

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// notFound folds store misses into ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var mergeErr *MergeFailedError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, ErrArchiveDisabled):
		return domainError(http.StatusNotFound, "NOT_FOUND", "The version archive is not enabled", nil)
	case errors.Is(err, rbac.ErrReadOnly):
		return domainError(http.StatusForbidden, "READ_ONLY", "You have read-only access to this document", nil)
	case errors.Is(err, rbac.ErrUnauthorized):
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "You do not have access to this document", nil)
	case errors.Is(err, ErrBranchNameConflict):
		return domainError(http.StatusConflict, "BRANCH_NAME_CONFLICT", "A branch with this name already exists", nil)
	case errors.As(err, &mergeErr):
		return domainError(http.StatusConflict, "MERGE_FAILED", "Changes could not be merged cleanly", map[string]any{
			"sourceId": mergeErr.SourceID,
			"targetId": mergeErr.TargetID,
		})
	case errors.Is(err, textdiff.ErrPatchFailed):
		return domainError(http.StatusConflict, "MERGE_FAILED", "Changes could not be merged cleanly", nil)
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, textdiff.ErrInvalidInput):
		return domainError(http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, ErrMainBranchProtected):
		return domainError(http.StatusConflict, "INVALID_STATE", "The main branch cannot be changed this way", nil)
	case errors.Is(err, ErrInvalidState):
		return domainError(http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
	default:
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
	}
}
