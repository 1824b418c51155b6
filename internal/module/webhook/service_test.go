package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/module/intent"
	"github.com/routepay/server/internal/module/provider"
	"github.com/routepay/server/internal/shared/config"
	"github.com/routepay/server/internal/shared/crypto"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testHMACKey       = "adyen-hmac-test-key"
)

type memIntents struct {
	intents map[uuid.UUID]*intent.PaymentIntent
}

func newMemIntents() *memIntents {
	return &memIntents{intents: make(map[uuid.UUID]*intent.PaymentIntent)}
}

func (m *memIntents) add(pi *intent.PaymentIntent) {
	m.intents[pi.ID] = pi
}

func (m *memIntents) FindByProviderRef(_ context.Context, p provider.Provider, ref string) (*intent.PaymentIntent, error) {
	for _, pi := range m.intents {
		if pi.Provider == p && pi.ProviderRef == ref {
			return pi, nil
		}
	}
	return nil, intent.ErrIntentNotFound
}

func (m *memIntents) GetIntentByID(_ context.Context, intentID uuid.UUID) (*intent.PaymentIntent, error) {
	pi, ok := m.intents[intentID]
	if !ok {
		return nil, intent.ErrIntentNotFound
	}
	return pi, nil
}

func (m *memIntents) SaveIntent(_ context.Context, pi *intent.PaymentIntent) error {
	m.intents[pi.ID] = pi
	return nil
}

type webhookOutcome struct {
	Provider provider.Provider
	IntentID uuid.UUID
	Success  bool
	Refund   bool
}

type stubHealth struct {
	outcomes []webhookOutcome
}

func (s *stubHealth) RecordPaymentOutcomeFromWebhook(_ context.Context, p provider.Provider, intentID uuid.UUID, success bool, _, _ string) error {
	s.outcomes = append(s.outcomes, webhookOutcome{Provider: p, IntentID: intentID, Success: success})
	return nil
}

func (s *stubHealth) RecordRefundOutcomeFromWebhook(_ context.Context, p provider.Provider, intentID uuid.UUID, _, _ string) error {
	s.outcomes = append(s.outcomes, webhookOutcome{Provider: p, IntentID: intentID, Success: true, Refund: true})
	return nil
}

func newTestService() (*Service, *memIntents, *stubHealth) {
	intents := newMemIntents()
	health := &stubHealth{}
	svc := NewService(intents, health, config.ProvidersConfig{
		Stripe: config.StripeConfig{WebhookSecret: testWebhookSecret},
		Adyen:  config.AdyenConfig{HMACKey: testHMACKey},
	}, zap.NewNop())
	return svc, intents, health
}

func signedStripePayload(t *testing.T, eventType string, data map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	event, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString()[:8],
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   event,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func stripeIntentFixture(intents *memIntents, status intent.Status) *intent.PaymentIntent {
	pi := &intent.PaymentIntent{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		AmountMinor: 2500,
		Currency:    "USD",
		Status:      status,
		Provider:    provider.Stripe,
		ProviderRef: "pi_stripe_123",
	}
	intents.add(pi)
	return pi
}

func TestProcessStripeEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("payment succeeded settles the intent", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := stripeIntentFixture(intents, intent.StatusRequiresPaymentMethod)

		payload, sig := signedStripePayload(t, "payment_intent.succeeded", map[string]any{"id": "pi_stripe_123"})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))

		assert.Equal(t, intent.StatusSucceeded, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
		assert.Equal(t, provider.Stripe, health.outcomes[0].Provider)
		assert.True(t, health.outcomes[0].Success)
	})

	t.Run("payment failed fails the intent", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := stripeIntentFixture(intents, intent.StatusRequiresPaymentMethod)

		payload, sig := signedStripePayload(t, "payment_intent.payment_failed", map[string]any{"id": "pi_stripe_123"})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))

		assert.Equal(t, intent.StatusFailed, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
		assert.False(t, health.outcomes[0].Success)
	})

	t.Run("settled intent is not reopened", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := stripeIntentFixture(intents, intent.StatusSucceeded)

		payload, sig := signedStripePayload(t, "payment_intent.payment_failed", map[string]any{"id": "pi_stripe_123"})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))

		assert.Equal(t, intent.StatusSucceeded, intents.intents[pi.ID].Status)
		assert.Empty(t, health.outcomes)
	})

	t.Run("charge refunded marks the intent refunded", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := stripeIntentFixture(intents, intent.StatusSucceeded)

		payload, sig := signedStripePayload(t, "charge.refunded", map[string]any{
			"id":             "ch_123",
			"payment_intent": "pi_stripe_123",
		})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))

		assert.Equal(t, intent.StatusRefunded, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
		assert.True(t, health.outcomes[0].Refund)
	})

	t.Run("metadata fallback resolves the intent", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := stripeIntentFixture(intents, intent.StatusRequiresPaymentMethod)

		payload, sig := signedStripePayload(t, "payment_intent.succeeded", map[string]any{
			"id": "pi_unknown_ref",
			"metadata": map[string]string{
				"routepay_payment_intent_id": pi.ID.String(),
				"routepay_merchant_id":       pi.MerchantID.String(),
			},
		})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))

		assert.Equal(t, intent.StatusSucceeded, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		svc, _, _ := newTestService()

		payload, _ := signedStripePayload(t, "payment_intent.succeeded", map[string]any{"id": "pi_stripe_123"})
		err := svc.ProcessStripeEvent(ctx, payload, "t=1,v1=deadbeef")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unknown event type is acknowledged", func(t *testing.T) {
		svc, _, health := newTestService()

		payload, sig := signedStripePayload(t, "customer.created", map[string]any{"id": "cus_123"})
		require.NoError(t, svc.ProcessStripeEvent(ctx, payload, sig))
		assert.Empty(t, health.outcomes)
	})

	t.Run("unknown intent surfaces a typed error", func(t *testing.T) {
		svc, _, _ := newTestService()

		payload, sig := signedStripePayload(t, "payment_intent.succeeded", map[string]any{"id": "pi_nobody"})
		err := svc.ProcessStripeEvent(ctx, payload, sig)
		assert.ErrorIs(t, err, ErrUnknownIntent)
	})
}

func adyenItem(pi *intent.PaymentIntent, eventCode, success, pspRef, originalRef string) AdyenRequestItem {
	item := AdyenRequestItem{
		PSPReference:        pspRef,
		OriginalReference:   originalRef,
		MerchantAccountCode: "RoutePayECOM",
		MerchantReference:   pi.ID.String(),
		EventCode:           eventCode,
		Success:             success,
		Amount:              AdyenAmount{Value: pi.AmountMinor, Currency: pi.Currency},
	}
	message := fmt.Sprintf("%s:%s:%s:%s:%d:%s:%s:%s",
		item.PSPReference, item.OriginalReference, item.MerchantAccountCode,
		item.MerchantReference, item.Amount.Value, item.Amount.Currency,
		item.EventCode, item.Success,
	)
	item.AdditionalData = map[string]string{
		"hmacSignature": crypto.HMACSHA256Base64([]byte(testHMACKey), message),
	}
	return item
}

func adyenPayload(t *testing.T, items ...AdyenRequestItem) []byte {
	t.Helper()
	notification := AdyenNotification{Live: "false"}
	for _, item := range items {
		notification.NotificationItems = append(notification.NotificationItems, AdyenNotificationItem{NotificationRequestItem: item})
	}
	raw, err := json.Marshal(notification)
	require.NoError(t, err)
	return raw
}

func adyenIntentFixture(intents *memIntents, status intent.Status, providerRef string) *intent.PaymentIntent {
	pi := &intent.PaymentIntent{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		AmountMinor: 4200,
		Currency:    "EUR",
		Status:      status,
		Provider:    provider.Adyen,
		ProviderRef: providerRef,
	}
	intents.add(pi)
	return pi
}

func TestProcessAdyenNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("authorisation success promotes the psp reference", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "CS_session_abc")

		payload := adyenPayload(t, adyenItem(pi, "AUTHORISATION", "true", "PSP123", ""))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))

		stored := intents.intents[pi.ID]
		assert.Equal(t, intent.StatusSucceeded, stored.Status)
		assert.Equal(t, "PSP123", stored.ProviderRef)
		require.Len(t, health.outcomes, 1)
		assert.True(t, health.outcomes[0].Success)
	})

	t.Run("authorisation failure fails the intent", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "CS_session_abc")

		payload := adyenPayload(t, adyenItem(pi, "AUTHORISATION", "false", "PSP123", ""))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))

		assert.Equal(t, intent.StatusFailed, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
		assert.False(t, health.outcomes[0].Success)
	})

	t.Run("refund success marks the intent refunded", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusSucceeded, "PSP123")

		payload := adyenPayload(t, adyenItem(pi, "REFUND", "true", "REF456", "PSP123"))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))

		assert.Equal(t, intent.StatusRefunded, intents.intents[pi.ID].Status)
		require.Len(t, health.outcomes, 1)
		assert.True(t, health.outcomes[0].Refund)
	})

	t.Run("refund failure leaves the intent untouched", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusSucceeded, "PSP123")

		payload := adyenPayload(t, adyenItem(pi, "REFUND", "false", "REF456", "PSP123"))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))

		assert.Equal(t, intent.StatusSucceeded, intents.intents[pi.ID].Status)
		assert.Empty(t, health.outcomes)
	})

	t.Run("merchant reference resolves when refs do not match", func(t *testing.T) {
		svc, intents, _ := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "CS_other")

		payload := adyenPayload(t, adyenItem(pi, "AUTHORISATION", "true", "PSPNEW", ""))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))
		assert.Equal(t, intent.StatusSucceeded, intents.intents[pi.ID].Status)
	})

	t.Run("tampered item fails the whole batch", func(t *testing.T) {
		svc, intents, _ := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "CS_session_abc")

		item := adyenItem(pi, "AUTHORISATION", "true", "PSP123", "")
		item.Amount.Value = 999999
		payload := adyenPayload(t, item)

		err := svc.ProcessAdyenNotification(ctx, payload)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, intent.StatusRequiresPaymentMethod, intents.intents[pi.ID].Status)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		svc, intents, _ := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "CS_session_abc")

		item := adyenItem(pi, "AUTHORISATION", "true", "PSP123", "")
		item.AdditionalData = nil
		payload := adyenPayload(t, item)

		assert.ErrorIs(t, svc.ProcessAdyenNotification(ctx, payload), ErrInvalidSignature)
	})

	t.Run("settled intent ignores duplicate authorisation", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusSucceeded, "PSP123")

		payload := adyenPayload(t, adyenItem(pi, "AUTHORISATION", "true", "PSP123", ""))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))
		assert.Empty(t, health.outcomes)
	})

	t.Run("unhandled event code is acknowledged", func(t *testing.T) {
		svc, intents, health := newTestService()
		pi := adyenIntentFixture(intents, intent.StatusRequiresPaymentMethod, "PSP123")

		payload := adyenPayload(t, adyenItem(pi, "REPORT_AVAILABLE", "true", "PSP123", ""))
		require.NoError(t, svc.ProcessAdyenNotification(ctx, payload))
		assert.Empty(t, health.outcomes)
		assert.Equal(t, intent.StatusRequiresPaymentMethod, intents.intents[pi.ID].Status)
	})
}
