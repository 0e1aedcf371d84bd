/*
ledger.go - Append-side invariants shared by every store

PURPOSE:
  The ledger is the immutable source of truth for stock movements. Quantity
  on hand and valuation are always computed by replaying it; nothing here
  keeps a running balance.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete
  2. POSITIVE QUANTITY: direction comes from Kind, never from the sign
  3. NON-NEGATIVE UNIT VALUE
  4. MONOTONIC SEQUENCE: each appended transaction gets a number greater
     than every number before it

Stores call ValidateTransaction before writing and ValidateItem before
saving a catalog entry, so the rules are identical across backends.
*/
package ledger

import (
	"strings"
)

// ValidateTransaction checks the append invariants that do not depend on
// stored state.
func ValidateTransaction(tx Transaction) error {
	if !tx.Kind.Valid() {
		return &InvalidTransactionError{Field: "kind", Reason: "must be entry or exit"}
	}
	if strings.TrimSpace(string(tx.SKU)) == "" {
		return &InvalidTransactionError{Field: "sku", Reason: "is required"}
	}
	if !tx.Quantity.IsPositive() {
		return &InvalidTransactionError{Field: "quantity", Reason: "must be positive"}
	}
	if !fitsScale(tx.Quantity) {
		return &InvalidTransactionError{Field: "quantity", Reason: "has more than 2 decimal places"}
	}
	if !withinBounds(tx.Quantity) {
		return &InvalidTransactionError{Field: "quantity", Reason: "must not exceed " + MaxAmount.String()}
	}
	if tx.UnitValue.IsNegative() {
		return &InvalidTransactionError{Field: "unit_value", Reason: "must not be negative"}
	}
	if !fitsScale(tx.UnitValue) {
		return &InvalidTransactionError{Field: "unit_value", Reason: "has more than 2 decimal places"}
	}
	if !withinBounds(tx.UnitValue) {
		return &InvalidTransactionError{Field: "unit_value", Reason: "must not exceed " + MaxAmount.String()}
	}
	if tx.OccurredOn.IsZero() {
		return &InvalidTransactionError{Field: "occurred_on", Reason: "is required"}
	}
	if tx.Sequence < 0 {
		return &InvalidTransactionError{Field: "sequence", Reason: "must not be negative"}
	}
	if tx.IsExit() && (tx.SupplierID != "" || tx.DocumentRef != "") {
		return &InvalidTransactionError{Field: "supplier_id", Reason: "only entries carry supplier and document references"}
	}
	return nil
}

// NextSequence resolves the sequence number for a transaction about to be
// appended after last. An unassigned (zero) sequence takes last+1; an
// explicit one must be greater than last.
func NextSequence(requested, last Sequence) (Sequence, error) {
	if requested == 0 {
		return last + 1, nil
	}
	if requested <= last {
		return 0, ErrSequenceConflict
	}
	return requested, nil
}

// ValidateItem checks a catalog entry before it is saved.
func ValidateItem(item Item) error {
	if strings.TrimSpace(string(item.SKU)) == "" {
		return ErrInvalidItem
	}
	return nil
}

// MatchesItem applies an ItemFilter in memory. SQL stores express the same
// rules in their WHERE clause.
func MatchesItem(f ItemFilter, item Item) bool {
	if f.OnlyActive && !item.Active {
		return false
	}
	if f.SKU != "" && !ContainsFold(string(item.SKU), f.SKU) {
		return false
	}
	if f.Description != "" && !ContainsFold(item.Description, f.Description) {
		return false
	}
	return true
}

// ContainsFold reports whether substr is within s, ignoring case under
// Unicode lowercasing.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
