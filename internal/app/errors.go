package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tails/api/internal/hierarchy"
	"tails/api/internal/store"
)

// Kind is the closed set of failure classes the request boundary maps to
// responses.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindDepthExceeded     Kind = "DEPTH_EXCEEDED"
	KindCircularReference Kind = "CIRCULAR_REFERENCE"
	KindDuplicatePath     Kind = "DUPLICATE_PATH"
	KindDuplicateName     Kind = "DUPLICATE_NAME"
	KindCorruptHierarchy  Kind = "CORRUPT_HIERARCHY"
	KindStoreUnavailable  Kind = "STORE_UNAVAILABLE"
)

type DomainError struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Status is the HTTP status for the error's kind.
func (e *DomainError) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput, KindDepthExceeded, KindCircularReference:
		return http.StatusBadRequest
	case KindDuplicatePath, KindDuplicateName:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func domainError(kind Kind, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

func documentNotFound(id string) *DomainError {
	return domainError(KindNotFound, "Document not found", map[string]any{"documentId": id})
}

func parentNotFound(id string) *DomainError {
	return domainError(KindNotFound, "Parent document not found", map[string]any{"parentId": id})
}

func workspaceNotFound(id string) *DomainError {
	return domainError(KindNotFound, "Workspace not found", map[string]any{"workspaceId": id})
}

func depthExceeded(level int) *DomainError {
	return domainError(KindDepthExceeded, "Maximum nesting depth of 5 levels exceeded", map[string]any{
		"level":    level,
		"maxLevel": hierarchy.MaxLevel,
	})
}

// fail converts err into a DomainError. Errors that already are one pass
// through; store and hierarchy sentinels map to their kinds; anything else is
// a store failure.
func (s *Service) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var out *DomainError
	switch {
	case errors.Is(err, hierarchy.ErrCircularReference):
		out = domainError(KindCircularReference, "A document cannot be moved under itself or its descendants", nil)
	case errors.Is(err, hierarchy.ErrDepthExceeded):
		out = domainError(KindDepthExceeded, "Maximum nesting depth of 5 levels exceeded", nil)
	case errors.Is(err, hierarchy.ErrCorruptHierarchy):
		out = domainError(KindCorruptHierarchy, "Server error", nil)
		s.logger.Error().Err(err).Str("op", op).Bool("integrity_audit", true).Msg("ancestor chain exceeded hop limit")
	case errors.Is(err, store.ErrDuplicatePath):
		out = domainError(KindDuplicatePath, "A document with this path already exists in the workspace", nil)
	case errors.Is(err, store.ErrDuplicateName):
		out = domainError(KindDuplicateName, "A workspace with this name already exists", nil)
	case errors.Is(err, store.ErrNotFound):
		out = domainError(KindNotFound, "Not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out = domainError(KindStoreUnavailable, "Request cancelled", nil)
	default:
		out = domainError(KindStoreUnavailable, "Storage unavailable", nil)
		s.logger.Error().Err(err).Str("op", op).Msg("store operation failed")
	}
	out.Err = err
	return out
}

// IsKind reports whether err is a DomainError of kind.
func IsKind(err error, kind Kind) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Kind == kind
}
