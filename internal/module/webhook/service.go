package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/module/intent"
	"github.com/routepay/server/internal/module/provider"
	"github.com/routepay/server/internal/shared/config"
	"github.com/routepay/server/internal/shared/crypto"
)

// ErrInvalidSignature is returned when a webhook fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrUnknownIntent is returned when an event references no known intent.
var ErrUnknownIntent = errors.New("webhook references unknown payment intent")

// Intents is the slice of intent persistence the webhook service needs.
type Intents interface {
	FindByProviderRef(ctx context.Context, p provider.Provider, providerRef string) (*intent.PaymentIntent, error)
	GetIntentByID(ctx context.Context, intentID uuid.UUID) (*intent.PaymentIntent, error)
	SaveIntent(ctx context.Context, pi *intent.PaymentIntent) error
}

// HealthRecorder feeds settlement outcomes into the circuit breaker.
type HealthRecorder interface {
	RecordPaymentOutcomeFromWebhook(ctx context.Context, p provider.Provider, intentID uuid.UUID, success bool, payloadForHash, sanitizedJSON string) error
	RecordRefundOutcomeFromWebhook(ctx context.Context, p provider.Provider, intentID uuid.UUID, payloadForHash, sanitizedJSON string) error
}

// Service settles payment intents from provider webhooks.
type Service struct {
	intents   Intents
	health    HealthRecorder
	providers config.ProvidersConfig
	logger    *zap.Logger
}

// NewService creates a webhook service.
func NewService(intents Intents, health HealthRecorder, providers config.ProvidersConfig, logger *zap.Logger) *Service {
	return &Service{
		intents:   intents,
		health:    health,
		providers: providers,
		logger:    logger,
	}
}

// ProcessStripeEvent verifies and applies a Stripe webhook payload.
func (s *Service) ProcessStripeEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.providers.Stripe.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return s.handleStripePaymentIntent(ctx, &event, true)
	case "payment_intent.payment_failed":
		return s.handleStripePaymentIntent(ctx, &event, false)
	case "charge.refunded":
		return s.handleStripeChargeRefunded(ctx, &event)
	default:
		s.logger.Debug("unhandled stripe event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) handleStripePaymentIntent(ctx context.Context, event *stripe.Event, succeeded bool) error {
	var spi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &spi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}

	pi, err := s.lookupStripeIntent(ctx, spi.ID, spi.Metadata)
	if err != nil {
		return err
	}
	if pi.Status.Final() {
		s.logger.Info("stripe event for settled intent ignored",
			zap.String("payment_intent_id", pi.ID.String()),
			zap.String("event_id", event.ID),
		)
		return nil
	}

	if succeeded {
		pi.Status = intent.StatusSucceeded
	} else {
		pi.Status = intent.StatusFailed
	}
	if err := s.intents.SaveIntent(ctx, pi); err != nil {
		return err
	}

	sanitized := fmt.Sprintf(`{"eventType":%q,"succeeded":%t}`, event.Type, succeeded)
	if err := s.health.RecordPaymentOutcomeFromWebhook(ctx, provider.Stripe, pi.ID, succeeded, "stripe:"+event.ID, sanitized); err != nil {
		s.logger.Warn("record webhook outcome failed", zap.Error(err))
	}

	s.logger.Info("stripe payment settled",
		zap.String("payment_intent_id", pi.ID.String()),
		zap.String("status", string(pi.Status)),
		zap.String("event_id", event.ID),
	)
	return nil
}

func (s *Service) handleStripeChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("unmarshal charge: %w", err)
	}
	if charge.PaymentIntent == nil {
		s.logger.Warn("charge.refunded without payment intent", zap.String("event_id", event.ID))
		return nil
	}

	pi, err := s.lookupStripeIntent(ctx, charge.PaymentIntent.ID, charge.Metadata)
	if err != nil {
		return err
	}

	pi.Status = intent.StatusRefunded
	if err := s.intents.SaveIntent(ctx, pi); err != nil {
		return err
	}

	if err := s.health.RecordRefundOutcomeFromWebhook(ctx, provider.Stripe, pi.ID, "stripe:"+event.ID, `{"eventType":"charge.refunded"}`); err != nil {
		s.logger.Warn("record refund outcome failed", zap.Error(err))
	}
	return nil
}

// lookupStripeIntent resolves the local intent from a Stripe object,
// preferring the provider reference and falling back to the ids carried
// in metadata.
func (s *Service) lookupStripeIntent(ctx context.Context, providerRef string, metadata map[string]string) (*intent.PaymentIntent, error) {
	pi, err := s.intents.FindByProviderRef(ctx, provider.Stripe, providerRef)
	if err == nil {
		return pi, nil
	}
	if !errors.Is(err, intent.ErrIntentNotFound) {
		return nil, err
	}

	intentID, perr := uuid.Parse(metadata["routepay_payment_intent_id"])
	if perr != nil {
		return nil, fmt.Errorf("%w: ref %s", ErrUnknownIntent, providerRef)
	}
	pi, err = s.intents.GetIntentByID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%w: ref %s", ErrUnknownIntent, providerRef)
	}
	return pi, nil
}

// AdyenNotification is the envelope Adyen posts to the standard
// notification endpoint.
type AdyenNotification struct {
	Live              string                  `json:"live"`
	NotificationItems []AdyenNotificationItem `json:"notificationItems"`
}

// AdyenNotificationItem wraps a single notification.
type AdyenNotificationItem struct {
	NotificationRequestItem AdyenRequestItem `json:"NotificationRequestItem"`
}

// AdyenRequestItem is one event within a notification batch.
type AdyenRequestItem struct {
	PSPReference        string            `json:"pspReference"`
	OriginalReference   string            `json:"originalReference"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	EventCode           string            `json:"eventCode"`
	Success             string            `json:"success"`
	Amount              AdyenAmount       `json:"amount"`
	AdditionalData      map[string]string `json:"additionalData"`
}

// AdyenAmount is the minor-unit amount on a notification item.
type AdyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// ProcessAdyenNotification verifies HMAC signatures and applies every item
// in the batch. Items with a bad signature fail the whole batch so Adyen
// retries it.
func (s *Service) ProcessAdyenNotification(ctx context.Context, payload []byte) error {
	var notification AdyenNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("unmarshal notification: %w", err)
	}

	for _, item := range notification.NotificationItems {
		if err := s.verifyAdyenHMAC(item.NotificationRequestItem); err != nil {
			return err
		}
	}
	for _, item := range notification.NotificationItems {
		if err := s.applyAdyenItem(ctx, item.NotificationRequestItem); err != nil {
			return err
		}
	}
	return nil
}

// verifyAdyenHMAC checks the hmacSignature in additionalData against the
// documented signing string: the colon-joined reference, merchant, amount
// and outcome fields.
func (s *Service) verifyAdyenHMAC(item AdyenRequestItem) error {
	hmacKey := s.providers.Adyen.HMACKey
	if hmacKey == "" {
		return fmt.Errorf("%w: adyen hmac key not configured", ErrInvalidSignature)
	}
	signature := item.AdditionalData["hmacSignature"]
	if signature == "" {
		return fmt.Errorf("%w: missing hmacSignature", ErrInvalidSignature)
	}

	message := fmt.Sprintf("%s:%s:%s:%s:%d:%s:%s:%s",
		item.PSPReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		item.Amount.Value,
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	)
	expected := crypto.HMACSHA256Base64([]byte(hmacKey), message)
	if !crypto.ConstantTimeEquals(expected, signature) {
		return fmt.Errorf("%w: hmac mismatch", ErrInvalidSignature)
	}
	return nil
}

func (s *Service) applyAdyenItem(ctx context.Context, item AdyenRequestItem) error {
	success := item.Success == "true"

	switch item.EventCode {
	case "AUTHORISATION":
		return s.applyAdyenAuthorisation(ctx, item, success)
	case "REFUND":
		return s.applyAdyenRefund(ctx, item, success)
	default:
		s.logger.Debug("unhandled adyen event code", zap.String("event_code", item.EventCode))
		return nil
	}
}

func (s *Service) applyAdyenAuthorisation(ctx context.Context, item AdyenRequestItem, success bool) error {
	pi, err := s.lookupAdyenIntent(ctx, item)
	if err != nil {
		return err
	}
	if pi.Status.Final() {
		s.logger.Info("adyen event for settled intent ignored",
			zap.String("payment_intent_id", pi.ID.String()),
			zap.String("psp_reference", item.PSPReference),
		)
		return nil
	}

	// The session id was provisional; the PSP reference is the durable
	// handle for refunds.
	if item.PSPReference != "" {
		pi.ProviderRef = item.PSPReference
	}
	if success {
		pi.Status = intent.StatusSucceeded
	} else {
		pi.Status = intent.StatusFailed
	}
	if err := s.intents.SaveIntent(ctx, pi); err != nil {
		return err
	}

	sanitized := fmt.Sprintf(`{"eventCode":"AUTHORISATION","success":%t}`, success)
	if err := s.health.RecordPaymentOutcomeFromWebhook(ctx, provider.Adyen, pi.ID, success, "adyen:"+item.PSPReference, sanitized); err != nil {
		s.logger.Warn("record webhook outcome failed", zap.Error(err))
	}
	return nil
}

func (s *Service) applyAdyenRefund(ctx context.Context, item AdyenRequestItem, success bool) error {
	if !success {
		s.logger.Warn("adyen refund failed",
			zap.String("psp_reference", item.PSPReference),
			zap.String("original_reference", item.OriginalReference),
		)
		return nil
	}

	pi, err := s.lookupAdyenIntent(ctx, item)
	if err != nil {
		return err
	}

	pi.Status = intent.StatusRefunded
	if err := s.intents.SaveIntent(ctx, pi); err != nil {
		return err
	}

	if err := s.health.RecordRefundOutcomeFromWebhook(ctx, provider.Adyen, pi.ID, "adyen:"+item.PSPReference, `{"eventCode":"REFUND","success":true}`); err != nil {
		s.logger.Warn("record refund outcome failed", zap.Error(err))
	}
	return nil
}

// lookupAdyenIntent resolves the local intent. The merchant reference is
// our intent id; refund notifications point at the original payment via
// originalReference.
func (s *Service) lookupAdyenIntent(ctx context.Context, item AdyenRequestItem) (*intent.PaymentIntent, error) {
	for _, ref := range []string{item.OriginalReference, item.PSPReference} {
		if ref == "" {
			continue
		}
		pi, err := s.intents.FindByProviderRef(ctx, provider.Adyen, ref)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, intent.ErrIntentNotFound) {
			return nil, err
		}
	}

	// The session reference on create was our intent id, which Adyen
	// echoes back as merchantReference.
	if intentID, err := uuid.Parse(item.MerchantReference); err == nil {
		pi, err := s.intents.GetIntentByID(ctx, intentID)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, intent.ErrIntentNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: psp reference %s", ErrUnknownIntent, item.PSPReference)
}
