package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrBalanceInconsistency = errors.New("balance inconsistency")
	ErrPersistence          = errors.New("persistence failure")
	ErrConflict             = errors.New("conflict")
)

// ValidationError reports a single rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects every rejected field of one request.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fieldErr := range e {
		parts = append(parts, fieldErr.Error())
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// BalanceInconsistencyError is raised when the balance register and the
// customer's ledger history disagree by more than the configured tolerance.
type BalanceInconsistencyError struct {
	CustomerID string
	Register   money.Amount
	Ledger     money.Amount
	Drift      money.Amount
}

func (e *BalanceInconsistencyError) Error() string {
	return fmt.Sprintf("customer %s balance %s disagrees with ledger %s (drift %s)",
		e.CustomerID, e.Register, e.Ledger, e.Drift)
}

func (e *BalanceInconsistencyError) Unwrap() error { return ErrBalanceInconsistency }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsKnown reports whether err already belongs to the error taxonomy above.
func IsKnown(err error) bool {
	for _, sentinel := range []error{
		ErrValidation, ErrNotFound, ErrInsufficientStock,
		ErrBalanceInconsistency, ErrPersistence, ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
