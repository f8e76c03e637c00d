package searchbase

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound         = errors.New("entity not found")
	ErrConflict         = errors.New("concurrent modification detected")
	ErrInvalidData      = errors.New("invalid data format")
	ErrSerialization    = errors.New("serialization failed")
	ErrUnsupportedValue = errors.New("unsupported value type")

	// Key and type resolution errors
	ErrMalformedKey = errors.New("malformed key")
	ErrUnknownType  = errors.New("unknown entity type")

	// Backend errors
	ErrConnection   = errors.New("key-value store unreachable")
	ErrPartialWrite = errors.New("entity stored but not indexed")
	ErrCircuitOpen  = errors.New("circuit breaker is open")

	// Index errors
	ErrIndexUnavailable = errors.New("search index unavailable")
	ErrIndexExists      = errors.New("search index already exists")
	ErrDocumentExists   = errors.New("index document already exists")
	ErrInvalidQuery     = errors.New("invalid search expression")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is an optimistic versioning conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPartialWrite reports whether the key-value write succeeded but the
// index write did not. The entity is readable by id but not searchable until
// the next successful merge or a Reconcile run.
func IsPartialWrite(err error) bool {
	return errors.Is(err, ErrPartialWrite)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrIndexUnavailable)
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMalformedKey) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig)
}

// wrap attaches a sentinel to a lower-level cause so that both errors.Is
// checks succeed.
func wrap(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
