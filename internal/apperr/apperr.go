// Package apperr classifies domain errors so transports can map them without
// knowing every sentinel.
package apperr

import "errors"

// Error kinds.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthorization  = errors.New("authorization error")
	ErrState          = errors.New("state error")
	ErrNotFound       = errors.New("not found")
	ErrAdapterFailure = errors.New("adapter failure")
	ErrReconciliation = errors.New("manual reconciliation required")
)

var kinds = []error{
	ErrReconciliation,
	ErrAdapterFailure,
	ErrAuthorization,
	ErrNotFound,
	ErrState,
	ErrValidation,
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// New returns a sentinel that matches both itself and kind under errors.Is.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf returns the most severe kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
