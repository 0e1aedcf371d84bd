package valuation

import (
	"errors"
	"fmt"

	"github.com/warp/stock-valuation/ledger"
)

// ErrInvalidInput is wrapped by every InputError.
var ErrInvalidInput = errors.New("valuation: invalid input")

// InputError rejects caller input before any store access.
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("valuation: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("valuation: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// IsClientError returns true for errors the caller can fix: bad input,
// or ledger write rejections surfaced through this package.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || ledger.IsClientError(err)
}

// IsNotFound returns true when the requested SKU is not in the registry.
func IsNotFound(err error) bool {
	return ledger.IsNotFound(err)
}
