package core

import (
	"errors"
	"fmt"
	"strings"

	"invoicehub/internal/docstore"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation failed")
	ErrLedgerNotFound         = errors.New("payment ledger not found")
	ErrPaymentIndexOutOfRange = errors.New("payment index out of range")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrForbidden              = errors.New("forbidden")
	ErrLegacyLedger           = errors.New("legacy ledger shape")
)

// ValidationError reports a rejected input field. errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StockShortageError lists the lines that cannot be fulfilled. errors.Is(err,
// ErrInsufficientStock) holds.
type StockShortageError struct {
	Items []InsufficientItem
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (required %s, available %s)", it.Key, it.Required, it.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

// InsufficientItem is a stock-sourced line whose quantity exceeds what is on hand.
type InsufficientItem struct {
	Key       StockKey        `json:"key"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// notFound translates a document-store miss into ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}
