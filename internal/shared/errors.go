package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates the requested quantity exceeds what is on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict indicates a row changed between read and write.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrAlreadyExists indicates a live record already uses the natural key.
	ErrAlreadyExists = errors.New("already exists")
	// ErrDuplicateRequest indicates an idempotency key already processed.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrUnauthorized indicates a missing or invalid principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a principal acting outside its tenant.
	ErrForbidden = errors.New("forbidden")
)

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage error so callers can classify it.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// PersistenceError carries the failing storage operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// InsufficientStockError reports requested versus available quantity.
type InsufficientStockError struct {
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	if e.Available == 0 {
		return "insufficient stock: no stock available"
	}
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// SubscriberError describes a failed event delivery. It is logged, never returned to callers.
type SubscriberError struct {
	Subscriber string
	EventType  string
	EventID    string
	Attempts   int
	Err        error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s failed on %s (%s) after %d attempt(s): %v", e.Subscriber, e.EventType, e.EventID, e.Attempts, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}

// IsBusinessError reports whether err is safe to show to the caller verbatim.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConcurrencyConflict)
}
