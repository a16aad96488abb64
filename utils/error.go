package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorAlreadyProcessed is returned when an audit record has already left the
// pending state. The pending -> approved/rejected transition is terminal.
var ErrorAlreadyProcessed = errors.New("audit record has already been processed")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidationError is a caller's-fault input error (4xx-equivalent).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError carries enough detail for the caller to explain the
// shortage without a second query.
type InsufficientStockError struct {
	NeededKg    decimal.Decimal
	AvailableKg decimal.Decimal
	ShortfallKg decimal.Decimal
	Boxes       int
	LooseKg     decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: need %skg, have %skg (short %skg; on hand: %d boxes, %skg loose)",
		e.NeededKg, e.AvailableKg, e.ShortfallKg, e.Boxes, e.LooseKg)
}

// PersistenceError wraps an underlying datastore failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// ErrorKind returns the stable machine-readable kind of an error.
func ErrorKind(err error) string {
	var ve *ValidationError
	var se *InsufficientStockError
	var pe *PersistenceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrorRecordNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrorAlreadyProcessed):
		return "ALREADY_PROCESSED"
	case errors.As(err, &se):
		return "INSUFFICIENT_STOCK"
	case errors.As(err, &ve):
		return "VALIDATION"
	case errors.As(err, &pe):
		return "PERSISTENCE"
	default:
		return "INTERNAL"
	}
}
