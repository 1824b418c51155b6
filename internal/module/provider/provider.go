package provider

import (
	"context"

	"github.com/google/uuid"
)

// Provider identifies an upstream payment provider.
type Provider string

const (
	Stripe    Provider = "STRIPE"
	Adyen     Provider = "ADYEN"
	PayPal    Provider = "PAYPAL"
	Transbank Provider = "TRANSBANK"
	Demo      Provider = "DEMO"
)

// Ordered is the canonical provider ordering used by availability
// listings and candidate resolution.
var Ordered = []Provider{Stripe, Adyen, PayPal, Transbank, Demo}

// currencySupport maps each routable provider to its supported currencies.
var currencySupport = map[Provider]map[string]bool{
	Stripe: {"USD": true, "EUR": true, "GBP": true},
	Adyen:  {"USD": true, "EUR": true, "MXN": true},
}

// SupportsCurrency reports whether p supports the given ISO currency code.
func (p Provider) SupportsCurrency(currency string) bool {
	return currencySupport[p][currency]
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	for _, known := range Ordered {
		if p == known {
			return true
		}
	}
	return false
}

// Preference is the caller's provider preference for a payment.
// AUTO delegates the choice to the routing engine.
type Preference string

const PreferenceAuto Preference = "AUTO"

// IsAuto reports whether the preference delegates to routing.
func (p Preference) IsAuto() bool {
	return p == "" || p == PreferenceAuto
}

// Provider converts an explicit preference to a provider id.
func (p Preference) Provider() Provider {
	return Provider(p)
}

// CreateSessionCommand carries everything an adapter needs to create a
// checkout session.
type CreateSessionCommand struct {
	MerchantID      uuid.UUID
	PaymentIntentID uuid.UUID
	AmountMinor     int64
	Currency        string
	Description     string
	IdempotencyKey  string
	ReturnURL       string
	// Config holds the resolved provider credentials for this merchant.
	Config map[string]string
}

// SessionResult is the adapter's answer to CreateSession.
type SessionResult struct {
	// ProviderRef is the provider-side session or transaction id.
	ProviderRef string
	// CheckoutConfig is opaque to the orchestrator and handed to the
	// client to render the provider's checkout.
	CheckoutConfig map[string]any
}

// RefundCommand carries everything an adapter needs to refund a payment.
type RefundCommand struct {
	MerchantID  uuid.UUID
	ProviderRef string
	AmountMinor int64
	Currency    string
	Reason      string
	Config      map[string]string
}

// Adapter is the contract each upstream provider integration satisfies.
// Failures must be returned as *Error so callers can match the kind.
type Adapter interface {
	Provider() Provider
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (*SessionResult, error)
	Refund(ctx context.Context, cmd RefundCommand) (string, error)
}
