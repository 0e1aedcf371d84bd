/*
errors.go - Error types for the ledger and its stores

ERROR CATEGORIES:
  1. Append errors - a transaction violates a ledger invariant
  2. Lookup errors - a referenced item does not exist
  3. Store errors  - wrapped driver failures (not declared here)

USAGE:
  if errors.Is(err, ledger.ErrItemNotFound) {
      // 404
  }

  var invalid *ledger.InvalidTransactionError
  if errors.As(err, &invalid) {
      log.Printf("rejected %s: %s", invalid.Field, invalid.Reason)
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransaction is returned when a transaction breaks an append
	// invariant (non-positive quantity, negative value, bad kind...).
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")

	// ErrSequenceConflict is returned when an explicit sequence number is not
	// greater than every sequence already in the ledger.
	ErrSequenceConflict = errors.New("ledger: sequence number already used or out of order")

	// ErrItemNotFound is returned when a SKU is not in the item registry.
	ErrItemNotFound = errors.New("ledger: item not found")

	// ErrInvalidItem is returned when an item cannot be saved.
	ErrInvalidItem = errors.New("ledger: invalid item")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidTransactionError names the offending field.
type InvalidTransactionError struct {
	Field  string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("ledger: invalid transaction: %s %s", e.Field, e.Reason)
}

func (e *InvalidTransactionError) Unwrap() error { return ErrInvalidTransaction }

// ItemNotFoundError carries the missing SKU.
type ItemNotFoundError struct {
	SKU SKU
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("ledger: item %q not found", e.SKU)
}

func (e *ItemNotFoundError) Unwrap() error { return ErrItemNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrSequenceConflict)
}

// IsNotFound returns true if the error indicates a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
