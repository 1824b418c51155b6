package routing

import (
	"fmt"

	"github.com/routepay/server/internal/module/provider"
)

// UnsupportedCurrencyError is returned when a preferred or forced provider
// cannot take the payment's currency.
type UnsupportedCurrencyError struct {
	Provider provider.Provider
	Currency string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("provider %s does not support currency %s", e.Provider, e.Currency)
}

// NoCandidateError is returned when no candidate supports the currency.
// Callers fall back to demo mode on this error.
type NoCandidateError struct {
	Currency string
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("no provider supports currency %s", e.Currency)
}
