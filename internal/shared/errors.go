package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a deduction the negative-stock policy forbids.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidStateTransition indicates a status change the workflow does not allow.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrAccessDenied indicates the actor's scope does not cover the resource.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnauthorized indicates a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDuplicate indicates an already processed request.
	ErrDuplicate = errors.New("duplicate request")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError carries the balances that failed the check.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Current     int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d in warehouse %d: have %d, need %d",
		e.ProductID, e.WarehouseID, e.Current, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidStateTransitionError reports a rejected status change.
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("%s cannot move to %s", e.Entity, e.To)
	}
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// AccessDeniedError explains a scope mismatch.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// Denied builds an AccessDeniedError.
func Denied(reason string) error {
	return &AccessDeniedError{Reason: reason}
}

// UserSafeMessage returns an error message suitable for API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrDuplicate):
		return err.Error()
	default:
		return "internal error"
	}
}
