package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrDirectoryUnavailable = errors.New("operator directory unavailable")
	ErrSessionsUnavailable  = errors.New("work sessions unavailable")
	ErrChoicesUnavailable   = errors.New("product choices unavailable")
	ErrOperatorNotFound     = errors.New("operator not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrValidationFailed     = errors.New("validation failed")
	ErrPersistFailed        = errors.New("failed to save spillage record")
	ErrReconciliationFailed = errors.New("inventory reconciliation failed")
	ErrFormClosed           = errors.New("form is closed")
	ErrSubmitInProgress     = errors.New("submit already in progress")
)

// ValidationError aggregates every failing field of a draft.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return ErrValidationFailed.Error() + ": " + strings.Join(keys, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
