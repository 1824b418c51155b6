package provider

import (
	"context"

	"go.uber.org/zap"
)

// DemoAdapter simulates a provider without external calls. It is used when
// no real provider is configured or when a client explicitly asks for demo
// mode, and its sessions are settled through the demo operations.
type DemoAdapter struct {
	checkoutBaseURL string
	logger          *zap.Logger
}

// NewDemoAdapter creates a demo adapter. checkoutBaseURL is the public base
// used to build the hosted demo checkout link.
func NewDemoAdapter(checkoutBaseURL string, logger *zap.Logger) *DemoAdapter {
	return &DemoAdapter{checkoutBaseURL: checkoutBaseURL, logger: logger}
}

// Provider returns the provider id.
func (d *DemoAdapter) Provider() Provider {
	return Demo
}

// CreateSession returns a deterministic synthetic session.
func (d *DemoAdapter) CreateSession(_ context.Context, cmd CreateSessionCommand) (*SessionResult, error) {
	intentID := cmd.PaymentIntentID.String()
	d.logger.Info("demo session created", zap.String("payment_intent_id", intentID))
	return &SessionResult{
		ProviderRef: "demo_" + intentID,
		CheckoutConfig: map[string]any{
			"type":            string(Demo),
			"paymentIntentId": intentID,
			"amountMinor":     cmd.AmountMinor,
			"currency":        cmd.Currency,
			"message":         "Demo mode active. No external provider configured.",
			"checkoutUrl":     d.checkoutBaseURL + "/demo-checkout/" + intentID,
		},
	}, nil
}

// Refund always succeeds with a synthetic reference.
func (d *DemoAdapter) Refund(_ context.Context, cmd RefundCommand) (string, error) {
	return "demo_refund_" + cmd.ProviderRef, nil
}
