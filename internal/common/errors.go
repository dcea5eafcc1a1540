package common

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every domain package. Domain sentinels wrap one of
// these so callers can match either the specific or the general kind.
var (
	// ErrValidation marks bad input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown item code, sale or debt.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock marks a stock check or reservation that could not be satisfied.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict marks a lost race the caller may retry.
	ErrConflict = errors.New("concurrency conflict")
	// ErrPersistence marks a storage failure that aborted the operation.
	ErrPersistence = errors.New("persistence failure")
)

// StockError reports the quantities behind an insufficient stock failure.
type StockError struct {
	Code      string `json:"code"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func (e *StockError) Error() string {
	if e == nil {
		return ErrInsufficientStock.Error()
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Code, e.Available, e.Requested)
}

// Unwrap allows errors.Is(err, ErrInsufficientStock).
func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Details exposes the quantities for error rendering.
func (e *StockError) Details() any {
	return map[string]any{"code": e.Code, "available": e.Available, "requested": e.Requested}
}

// Persistence wraps a storage error so it matches ErrPersistence while keeping
// the underlying cause inspectable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}

// Validation builds an ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
