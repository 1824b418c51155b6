package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeAdapter creates Stripe PaymentIntents as checkout sessions.
type StripeAdapter struct {
	logger *zap.Logger
}

// NewStripeAdapter creates a new Stripe adapter.
func NewStripeAdapter(logger *zap.Logger) *StripeAdapter {
	return &StripeAdapter{logger: logger}
}

// Provider returns the provider id.
func (a *StripeAdapter) Provider() Provider {
	return Stripe
}

// CreateSession creates a Stripe PaymentIntent and returns its client
// secret as the checkout config.
func (a *StripeAdapter) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*SessionResult, error) {
	secretKey := cmd.Config["secretKey"]
	publishableKey := cmd.Config["publishableKey"]
	if secretKey == "" || publishableKey == "" {
		return nil, NewError(Stripe, ErrValidation, "stripe is not configured", nil)
	}

	sc := &client.API{}
	sc.Init(secretKey, nil)

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"routepay_payment_intent_id": cmd.PaymentIntentID.String(),
				"routepay_merchant_id":       cmd.MerchantID.String(),
			},
		},
		Amount:   stripe.Int64(cmd.AmountMinor),
		Currency: stripe.String(strings.ToLower(cmd.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if cmd.Description != "" {
		params.Description = stripe.String(cmd.Description)
	}
	params.SetIdempotencyKey(providerIdempotencyKey(cmd))

	pi, err := sc.PaymentIntents.New(params)
	if err != nil {
		return nil, a.classify(ctx, err, "create payment intent")
	}

	return &SessionResult{
		ProviderRef: pi.ID,
		CheckoutConfig: map[string]any{
			"type":           string(Stripe),
			"publishableKey": publishableKey,
			"clientSecret":   pi.ClientSecret,
		},
	}, nil
}

// Refund refunds a Stripe payment by its PaymentIntent reference.
func (a *StripeAdapter) Refund(ctx context.Context, cmd RefundCommand) (string, error) {
	secretKey := cmd.Config["secretKey"]
	if secretKey == "" {
		return "", NewError(Stripe, ErrValidation, "stripe is not configured", nil)
	}

	sc := &client.API{}
	sc.Init(secretKey, nil)

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(cmd.ProviderRef),
		Amount:        stripe.Int64(cmd.AmountMinor),
	}
	ref, err := sc.Refunds.New(params)
	if err != nil {
		return "", a.classify(ctx, err, "create refund")
	}
	return ref.ID, nil
}

// classify maps a stripe-go error to a classified adapter error.
func (a *StripeAdapter) classify(ctx context.Context, err error, op string) *Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return NewError(Stripe, ErrTimeout, op+" timed out", err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		kind := ErrUnknown
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			kind = ErrDecline
		case stripeErr.HTTPStatusCode >= 500:
			kind = ErrHTTP5xx
		case stripeErr.HTTPStatusCode == 408:
			kind = ErrTimeout
		case stripeErr.HTTPStatusCode >= 400:
			kind = ErrValidation
		}
		a.logger.Warn("stripe request failed",
			zap.String("op", op),
			zap.Int("status", stripeErr.HTTPStatusCode),
			zap.String("kind", string(kind)),
		)
		return NewError(Stripe, kind, "stripe request failed", err)
	}

	return NewError(Stripe, ErrUnknown, fmt.Sprintf("stripe %s failed", op), err)
}

func providerIdempotencyKey(cmd CreateSessionCommand) string {
	if cmd.IdempotencyKey != "" {
		return "po:" + cmd.MerchantID.String() + ":" + cmd.IdempotencyKey
	}
	return "po:" + cmd.MerchantID.String() + ":" + cmd.PaymentIntentID.String()
}

