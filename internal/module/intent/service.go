package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/module/merchant"
	"github.com/routepay/server/internal/module/provider"
	"github.com/routepay/server/internal/module/routing"
	"github.com/routepay/server/internal/shared/crypto"
	apperrors "github.com/routepay/server/internal/shared/errors"
	"github.com/routepay/server/internal/shared/metrics"
)

const idempotencyEndpoint = "/api/payment-intents"

// Router decides the provider for a payment.
type Router interface {
	Decide(ctx context.Context, in routing.Input) (*routing.Decision, error)
}

// Availability resolves which providers can take traffic for a merchant.
type Availability interface {
	GetStatus(ctx context.Context, merchantID uuid.UUID, p provider.Provider) (provider.Status, error)
	AvailableProviders(ctx context.Context, merchantID uuid.UUID, excluded map[provider.Provider]bool) ([]provider.Provider, error)
	ResolveConfig(ctx context.Context, merchantID uuid.UUID, p provider.Provider) (map[string]string, bool, error)
}

// HealthRecorder feeds session and settlement outcomes to the circuit
// breaker.
type HealthRecorder interface {
	RecordCreateSessionOutcome(ctx context.Context, p provider.Provider, intentID uuid.UUID, success bool, latency time.Duration, errorKind string, payloadForHash string) error
	RecordPaymentOutcomeFromWebhook(ctx context.Context, p provider.Provider, intentID uuid.UUID, success bool, payloadForHash, sanitizedJSON string) error
}

// CheckoutStore keeps the client-facing checkout config per intent.
type CheckoutStore interface {
	Upsert(ctx context.Context, intentID uuid.UUID, config map[string]any) error
	Get(ctx context.Context, intentID uuid.UUID) (map[string]any, error)
}

// ServiceConfig holds orchestration limits.
type ServiceConfig struct {
	// MaxAttemptsPerRoot caps how many intents may share one root,
	// counting the original attempt.
	MaxAttemptsPerRoot int
	// SessionTimeout bounds each provider create-session call.
	SessionTimeout time.Duration
}

// Service orchestrates the payment intent lifecycle: routing, session
// creation with instant fallback, reroutes, refunds and demo settlement.
type Service struct {
	cfg           ServiceConfig
	merchants     merchant.Repository
	repo          Repository
	router        Router
	availability  Availability
	registry      *provider.Registry
	checkoutStore CheckoutStore
	health        HealthRecorder
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a payment intent service.
func NewService(
	cfg ServiceConfig,
	merchants merchant.Repository,
	repo Repository,
	router Router,
	availability Availability,
	registry *provider.Registry,
	checkoutStore CheckoutStore,
	health HealthRecorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if cfg.MaxAttemptsPerRoot <= 0 {
		cfg.MaxAttemptsPerRoot = 3
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Second
	}
	return &Service{
		cfg:           cfg,
		merchants:     merchants,
		repo:          repo,
		router:        router,
		availability:  availability,
		registry:      registry,
		checkoutStore: checkoutStore,
		health:        health,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// Created pairs an intent with its checkout config.
type Created struct {
	PaymentIntent  *PaymentIntent
	CheckoutConfig map[string]any
}

// CreateCommand carries a create request.
type CreateCommand struct {
	AmountMinor int64
	Currency    string
	Description string
	Preference  provider.Preference
}

// Create runs the full create flow. With an idempotency key, a replay
// returns the previously created intent without touching any provider.
func (s *Service) Create(ctx context.Context, merchantID uuid.UUID, cmd CreateCommand, idempotencyKey, requestID string) (*Created, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return nil, apperrors.NotFound("merchant")
		}
		return nil, err
	}

	if idempotencyKey != "" {
		rec, err := s.repo.FindIdempotency(ctx, merchantID, idempotencyEndpoint, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return s.replay(ctx, merchantID, rec.PaymentIntentID)
		}
	}

	intentID := uuid.New()
	created, err := s.createInternal(ctx, m, intentID, intentID, 0, cmd, idempotencyKey, requestID, nil)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		rec := &IdempotencyRecord{
			ID:              uuid.New(),
			MerchantID:      merchantID,
			Endpoint:        idempotencyEndpoint,
			IdempotencyKey:  idempotencyKey,
			PaymentIntentID: created.PaymentIntent.ID,
			RequestHash:     requestHash(cmd),
		}
		if err := s.repo.SaveIdempotency(ctx, rec); err != nil {
			return nil, fmt.Errorf("record idempotency: %w", err)
		}
		// A concurrent same-key request may have won the unique index.
		// Re-read and defer to the winner so both callers see one intent.
		winner, err := s.repo.FindIdempotency(ctx, merchantID, idempotencyEndpoint, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if winner != nil && winner.PaymentIntentID != created.PaymentIntent.ID {
			s.logger.Warn("idempotency race lost, returning winning intent",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("winning_intent_id", winner.PaymentIntentID.String()),
				zap.String("losing_intent_id", created.PaymentIntent.ID.String()),
			)
			return s.replay(ctx, merchantID, winner.PaymentIntentID)
		}
	}
	return created, nil
}

// Reroute retries a failed or stuck intent as a fresh attempt under the
// same root. With an AUTO preference the previous provider is excluded.
func (s *Service) Reroute(ctx context.Context, merchantID, intentID uuid.UUID, preference provider.Preference, requestID string) (*Created, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return nil, apperrors.NotFound("merchant")
		}
		return nil, err
	}

	existing, err := s.getOwned(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusFailed && existing.Status != StatusRequiresPaymentMethod {
		return nil, apperrors.Conflict("reroute allowed only for FAILED or REQUIRES_PAYMENT_METHOD")
	}

	rootID := existing.RootPaymentIntentID
	count, err := s.repo.CountByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if count >= int64(s.cfg.MaxAttemptsPerRoot) {
		return nil, apperrors.TooManyRequests("max reroute attempts reached")
	}

	cmd := CreateCommand{
		AmountMinor: existing.AmountMinor,
		Currency:    existing.Currency,
		Description: existing.Description,
		Preference:  preference,
	}
	var excluded map[provider.Provider]bool
	if preference.IsAuto() {
		excluded = map[provider.Provider]bool{existing.Provider: true}
	}
	return s.createInternal(ctx, m, uuid.New(), rootID, int(count), cmd, "", requestID, excluded)
}

// Get returns an intent owned by the merchant.
func (s *Service) Get(ctx context.Context, merchantID, intentID uuid.UUID) (*PaymentIntent, error) {
	return s.getOwned(ctx, merchantID, intentID)
}

// GetWithCheckoutConfig returns an intent along with its checkout config.
func (s *Service) GetWithCheckoutConfig(ctx context.Context, merchantID, intentID uuid.UUID) (*Created, error) {
	pi, err := s.getOwned(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	config, err := s.requireCheckoutConfig(ctx, pi.ID)
	if err != nil {
		return nil, err
	}
	return &Created{PaymentIntent: pi, CheckoutConfig: config}, nil
}

// List returns the merchant's intents, optionally filtered.
func (s *Service) List(ctx context.Context, merchantID uuid.UUID, status *Status, from, to *time.Time) ([]*PaymentIntent, error) {
	return s.repo.ListIntents(ctx, merchantID, status, from, to)
}

// RefundResult is the outcome of a refund request.
type RefundResult struct {
	PaymentIntentID   uuid.UUID         `json:"payment_intent_id"`
	Status            Status            `json:"status"`
	Provider          provider.Provider `json:"provider"`
	ProviderRefundRef string            `json:"provider_refund_ref"`
}

// Refund asks the provider to refund a succeeded intent. The intent moves
// to PROCESSING; the provider's webhook settles it to REFUNDED.
func (s *Service) Refund(ctx context.Context, merchantID, intentID uuid.UUID, reason string) (*RefundResult, error) {
	pi, err := s.getOwned(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if pi.Status != StatusSucceeded {
		return nil, apperrors.Conflict("refund allowed only for SUCCEEDED")
	}

	adapter, err := s.registry.Get(pi.Provider)
	if err != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("provider %s has no adapter", pi.Provider))
	}
	config, _, err := s.availability.ResolveConfig(ctx, merchantID, pi.Provider)
	if err != nil {
		return nil, err
	}

	refundRef, err := adapter.Refund(ctx, provider.RefundCommand{
		MerchantID:  merchantID,
		ProviderRef: pi.ProviderRef,
		AmountMinor: pi.AmountMinor,
		Currency:    pi.Currency,
		Reason:      reason,
		Config:      config,
	})
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) && pe.Kind == provider.ErrValidation {
			return nil, apperrors.ValidationError(pe.Message)
		}
		return nil, apperrors.BadGateway("provider refund failed")
	}

	pi.Status = StatusProcessing
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}

	s.logger.Info("refund requested",
		zap.String("payment_intent_id", pi.ID.String()),
		zap.String("provider", string(pi.Provider)),
		zap.String("refund_ref", refundRef),
	)
	return &RefundResult{
		PaymentIntentID:   pi.ID,
		Status:            pi.Status,
		Provider:          pi.Provider,
		ProviderRefundRef: refundRef,
	}, nil
}

// DemoAuthorize settles a demo intent as approved or declined. Terminal
// intents are returned unchanged.
func (s *Service) DemoAuthorize(ctx context.Context, merchantID, intentID uuid.UUID, outcome, requestID string) (*PaymentIntent, error) {
	pi, err := s.requireDemoIntent(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if pi.Status.Final() {
		return pi, nil
	}

	approved := outcome == "" || strings.EqualFold(outcome, "approved")

	pi.Status = StatusProcessing
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}
	if approved {
		pi.Status = StatusSucceeded
	} else {
		pi.Status = StatusFailed
	}
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}

	result := "declined"
	if approved {
		result = "approved"
	}
	sanitized := fmt.Sprintf(`{"action":"authorize","outcome":%q}`, result)
	if err := s.health.RecordPaymentOutcomeFromWebhook(ctx, provider.Demo, pi.ID, approved, "demo:"+requestID, sanitized); err != nil {
		s.logger.Warn("record demo outcome failed", zap.Error(err))
	}
	return pi, nil
}

// DemoCancel fails a non-terminal demo intent.
func (s *Service) DemoCancel(ctx context.Context, merchantID, intentID uuid.UUID, requestID string) (*PaymentIntent, error) {
	pi, err := s.requireDemoIntent(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if pi.Status.Final() {
		return pi, nil
	}

	pi.Status = StatusFailed
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}
	if err := s.health.RecordPaymentOutcomeFromWebhook(ctx, provider.Demo, pi.ID, false, "demo:"+requestID, `{"action":"cancel"}`); err != nil {
		s.logger.Warn("record demo outcome failed", zap.Error(err))
	}
	return pi, nil
}

// SearchDecisions exposes routing decisions for operators.
func (s *Service) SearchDecisions(ctx context.Context, filter DecisionFilter) ([]*RoutingDecision, error) {
	return s.repo.SearchDecisions(ctx, filter)
}

// createInternal is the shared create/reroute path. The intent is
// persisted before its routing decision so the decision's foreign key
// always references an existing row.
func (s *Service) createInternal(
	ctx context.Context,
	m *merchant.Merchant,
	intentID, rootID uuid.UUID,
	attempt int,
	cmd CreateCommand,
	idempotencyKey, requestID string,
	excluded map[provider.Provider]bool,
) (*Created, error) {
	currency := normalizeCurrency(cmd.Currency)
	preference := cmd.Preference

	var decision *routing.Decision
	switch {
	case !preference.IsAuto() && preference.Provider() == provider.Demo:
		decision = s.demoDecision(cmd.AmountMinor, currency)
	default:
		if !preference.IsAuto() {
			explicit := preference.Provider()
			status, err := s.availability.GetStatus(ctx, m.ID, explicit)
			if err != nil {
				return nil, err
			}
			if !status.Available() {
				return nil, apperrors.ValidationError(fmt.Sprintf("provider %s not available (%s)", explicit, status.Reason))
			}
		}

		candidates, err := s.availability.AvailableProviders(ctx, m.ID, excluded)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			decision = s.demoDecision(cmd.AmountMinor, currency)
		} else {
			decision, err = s.router.Decide(ctx, routing.Input{
				PaymentIntentID:    intentID,
				AmountMinor:        cmd.AmountMinor,
				Currency:           currency,
				Preference:         preference,
				MerchantConfigJSON: m.RoutingConfigJSON,
				Candidates:         candidates,
				Excluded:           excluded,
			})
			if err != nil {
				return nil, mapRoutingError(err)
			}
		}
	}

	pi := &PaymentIntent{
		ID:                  intentID,
		MerchantID:          m.ID,
		AmountMinor:         cmd.AmountMinor,
		Currency:            currency,
		Description:         cmd.Description,
		Status:              StatusCreated,
		Provider:            decision.Provider,
		RoutingReasonCode:   decision.ReasonCode,
		IdempotencyKey:      idempotencyKey,
		RootPaymentIntentID: rootID,
		AttemptNumber:       attempt,
	}
	if err := s.repo.CreateIntent(ctx, pi); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	if err := s.recordDecision(ctx, pi, decision); err != nil {
		return nil, err
	}
	s.metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Provider), decision.ReasonCode).Inc()

	session, err := s.createSession(ctx, m.ID, pi, cmd, idempotencyKey, requestID)
	if err != nil {
		kind := provider.KindOf(err)
		if !kind.Retryable() {
			return nil, s.failIntent(ctx, pi, "provider failed creating checkout session")
		}
		session, err = s.instantFallback(ctx, m, pi, cmd, idempotencyKey, requestID, excluded)
		if err != nil {
			return nil, err
		}
	}

	pi.ProviderRef = session.ProviderRef
	pi.Status = StatusRequiresPaymentMethod
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}
	if err := s.checkoutStore.Upsert(ctx, pi.ID, session.CheckoutConfig); err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.String("payment_intent_id", pi.ID.String()),
		zap.String("merchant_id", m.ID.String()),
		zap.String("provider", string(pi.Provider)),
		zap.String("reason", pi.RoutingReasonCode),
		zap.Int("attempt", pi.AttemptNumber),
	)
	return &Created{PaymentIntent: pi, CheckoutConfig: session.CheckoutConfig}, nil
}

// instantFallback reroutes to the best alternative after a retryable
// session failure. One fallback attempt only; a second failure fails the
// intent.
func (s *Service) instantFallback(
	ctx context.Context,
	m *merchant.Merchant,
	pi *PaymentIntent,
	cmd CreateCommand,
	idempotencyKey, requestID string,
	excluded map[provider.Provider]bool,
) (*provider.SessionResult, error) {
	newExcluded := make(map[provider.Provider]bool, len(excluded)+1)
	for p := range excluded {
		newExcluded[p] = true
	}
	newExcluded[pi.Provider] = true

	candidates, err := s.availability.AvailableProviders(ctx, m.ID, newExcluded)
	if err != nil || len(candidates) == 0 {
		return nil, s.failIntent(ctx, pi, "no alternate providers available for fallback")
	}

	decision, err := s.router.Decide(ctx, routing.Input{
		PaymentIntentID:    pi.ID,
		AmountMinor:        cmd.AmountMinor,
		Currency:           pi.Currency,
		Preference:         provider.PreferenceAuto,
		MerchantConfigJSON: m.RoutingConfigJSON,
		Candidates:         candidates,
		Excluded:           newExcluded,
	})
	if err != nil {
		return nil, s.failIntent(ctx, pi, "no alternate providers available for fallback")
	}
	decision.ReasonCode = routing.ReasonInstantFallback

	pi.Provider = decision.Provider
	if err := s.recordDecision(ctx, pi, decision); err != nil {
		return nil, err
	}
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return nil, err
	}
	s.metrics.InstantFallbacksTotal.Inc()
	s.metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Provider), decision.ReasonCode).Inc()

	session, err := s.createSession(ctx, m.ID, pi, cmd, idempotencyKey, requestID+":fallback")
	if err != nil {
		return nil, s.failIntent(ctx, pi, "both providers failed creating checkout session")
	}
	return session, nil
}

// createSession calls the chosen adapter and feeds the outcome to health.
func (s *Service) createSession(ctx context.Context, merchantID uuid.UUID, pi *PaymentIntent, cmd CreateCommand, idempotencyKey, requestID string) (*provider.SessionResult, error) {
	adapter, err := s.registry.Get(pi.Provider)
	if err != nil {
		return nil, provider.NewError(pi.Provider, provider.ErrValidation, "no adapter registered", err)
	}
	config, _, err := s.availability.ResolveConfig(ctx, merchantID, pi.Provider)
	if err != nil {
		return nil, provider.NewError(pi.Provider, provider.ErrUnknown, "resolve provider config", err)
	}

	sessionCtx, cancel := context.WithTimeout(ctx, s.cfg.SessionTimeout)
	defer cancel()

	started := s.now()
	session, err := adapter.CreateSession(sessionCtx, provider.CreateSessionCommand{
		MerchantID:      merchantID,
		PaymentIntentID: pi.ID,
		AmountMinor:     pi.AmountMinor,
		Currency:        pi.Currency,
		Description:     pi.Description,
		IdempotencyKey:  idempotencyKey,
		Config:          config,
	})
	latency := s.now().Sub(started)

	if err != nil {
		kind := provider.KindOf(err)
		s.metrics.SessionOutcomesTotal.WithLabelValues(string(pi.Provider), "failure", string(kind)).Inc()
		if rerr := s.health.RecordCreateSessionOutcome(ctx, pi.Provider, pi.ID, false, latency, string(kind), "req:"+requestID); rerr != nil {
			s.logger.Warn("record session outcome failed", zap.Error(rerr))
		}
		return nil, err
	}

	s.metrics.SessionOutcomesTotal.WithLabelValues(string(pi.Provider), "success", "").Inc()
	if rerr := s.health.RecordCreateSessionOutcome(ctx, pi.Provider, pi.ID, true, latency, "", "req:"+requestID); rerr != nil {
		s.logger.Warn("record session outcome failed", zap.Error(rerr))
	}
	return session, nil
}

func (s *Service) recordDecision(ctx context.Context, pi *PaymentIntent, decision *routing.Decision) error {
	rec := &RoutingDecision{
		ID:                  uuid.New(),
		MerchantID:          pi.MerchantID,
		PaymentIntentID:     pi.ID,
		ChosenProvider:      decision.Provider,
		ReasonCode:          decision.ReasonCode,
		CandidateScoresJSON: decision.CandidateScoresJSON,
	}
	if err := s.repo.CreateDecision(ctx, rec); err != nil {
		return fmt.Errorf("record routing decision: %w", err)
	}
	pi.RoutingDecisionID = &rec.ID
	pi.RoutingReasonCode = rec.ReasonCode
	return nil
}

// failIntent marks the intent FAILED and returns the gateway error.
func (s *Service) failIntent(ctx context.Context, pi *PaymentIntent, message string) error {
	pi.Status = StatusFailed
	if err := s.repo.SaveIntent(ctx, pi); err != nil {
		return err
	}
	return apperrors.BadGateway(message)
}

func (s *Service) replay(ctx context.Context, merchantID, intentID uuid.UUID) (*Created, error) {
	pi, err := s.getOwned(ctx, merchantID, intentID)
	if err != nil {
		if apperrors.GetStatusCode(err) == 404 {
			return nil, apperrors.Conflict("idempotency record found but payment intent missing")
		}
		return nil, err
	}
	config, err := s.requireCheckoutConfig(ctx, pi.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.IdempotentReplaysTotal.Inc()
	return &Created{PaymentIntent: pi, CheckoutConfig: config}, nil
}

func (s *Service) getOwned(ctx context.Context, merchantID, intentID uuid.UUID) (*PaymentIntent, error) {
	pi, err := s.repo.GetIntent(ctx, merchantID, intentID)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return nil, apperrors.NotFound("payment intent")
		}
		return nil, err
	}
	return pi, nil
}

func (s *Service) requireDemoIntent(ctx context.Context, merchantID, intentID uuid.UUID) (*PaymentIntent, error) {
	pi, err := s.getOwned(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if pi.Provider != provider.Demo {
		return nil, apperrors.Conflict("demo operations require provider DEMO")
	}
	return pi, nil
}

func (s *Service) requireCheckoutConfig(ctx context.Context, intentID uuid.UUID) (map[string]any, error) {
	config, err := s.checkoutStore.Get(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrCheckoutConfigNotFound) {
			return nil, apperrors.Conflict("checkout config missing")
		}
		return nil, err
	}
	return config, nil
}

// demoDecision routes to the synthetic provider, either by request or
// because no real provider is available.
func (s *Service) demoDecision(amountMinor int64, currency string) *routing.Decision {
	raw, err := json.Marshal(map[string]any{
		"mode":        "DEMO",
		"currency":    currency,
		"amountMinor": amountMinor,
		"computedAt":  s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		raw = []byte(`{"mode":"DEMO"}`)
	}
	return &routing.Decision{
		Provider:            provider.Demo,
		ReasonCode:          routing.ReasonDemoMode,
		CandidateScoresJSON: string(raw),
	}
}

func mapRoutingError(err error) error {
	var unsupported *routing.UnsupportedCurrencyError
	if errors.As(err, &unsupported) {
		return apperrors.ValidationError(unsupported.Error())
	}
	var noCandidate *routing.NoCandidateError
	if errors.As(err, &noCandidate) {
		return apperrors.ValidationError(noCandidate.Error())
	}
	return err
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func requestHash(cmd CreateCommand) string {
	raw, err := json.Marshal(map[string]any{
		"amountMinor":        cmd.AmountMinor,
		"currency":           cmd.Currency,
		"description":        cmd.Description,
		"providerPreference": string(cmd.Preference),
	})
	if err != nil {
		return crypto.SHA256Hex(fmt.Sprintf("%d:%s:%s", cmd.AmountMinor, cmd.Currency, cmd.Preference))
	}
	return crypto.SHA256Hex(string(raw))
}
