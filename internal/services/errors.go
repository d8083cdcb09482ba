package services

import (
	"errors"
	"fmt"

	domain "github.com/pagecraft/api/internal/domain"
)

var (
	// ErrProductionInvalidInput marks produce requests that fail validation
	// before any composition work begins.
	ErrProductionInvalidInput = errors.New("production: invalid input")
	// ErrOrderInvalidInput marks submissions that fail validation before any
	// provider call is made.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderConflict signals a concurrent submission holding the same
	// idempotency key that has not completed yet.
	ErrOrderConflict = errors.New("order: submission already in flight")
	// ErrProviderUnavailable signals that the provider kept failing with
	// retryable errors until the retry budget ran out.
	ErrProviderUnavailable = errors.New("order: provider unavailable")
)

// QualityError reports a failing quality verdict. The full report travels with
// the error so callers can show every finding, not just the verdict.
type QualityError struct {
	Report domain.QualityReport
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("quality gate failed with %d blocking finding(s)", e.Report.BlockingCount())
}

// OrderRejectedError reports a permanent provider rejection that retrying
// cannot resolve.
type OrderRejectedError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected by %s: %s", e.Provider, e.Reason)
}

func (e *OrderRejectedError) Unwrap() error { return e.Err }
