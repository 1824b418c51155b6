package provider

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/shared/config"
)

// AvailabilityReason explains why a provider is or is not usable.
type AvailabilityReason string

const (
	ReasonOK             AvailabilityReason = "OK"
	ReasonNotSupported   AvailabilityReason = "NOT_SUPPORTED"
	ReasonNotImplemented AvailabilityReason = "NOT_IMPLEMENTED"
	ReasonNotConfigured  AvailabilityReason = "NOT_CONFIGURED"
	ReasonDisabled       AvailabilityReason = "DISABLED"
	ReasonUnhealthy      AvailabilityReason = "UNHEALTHY"
)

// Status is the availability verdict for one provider.
type Status struct {
	Provider   Provider           `json:"provider"`
	Configured bool               `json:"configured"`
	Enabled    bool               `json:"enabled"`
	Healthy    bool               `json:"healthy"`
	Reason     AvailabilityReason `json:"reason"`
}

// Available reports whether the provider can take traffic.
func (s Status) Available() bool {
	return s.Configured && s.Enabled && s.Healthy
}

// HealthGate answers whether a provider's circuit admits new sessions.
type HealthGate interface {
	Healthy(ctx context.Context, p Provider) (bool, error)
}

// Resolver computes provider availability for a merchant, combining
// merchant credentials, global configuration, adapter registration and
// circuit health. Merchant credentials take precedence over the global
// tier.
type Resolver struct {
	credentials *CredentialService
	registry    *Registry
	health      HealthGate
	providers   config.ProvidersConfig
	logger      *zap.Logger
}

// NewResolver creates an availability resolver.
func NewResolver(
	credentials *CredentialService,
	registry *Registry,
	health HealthGate,
	providers config.ProvidersConfig,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		credentials: credentials,
		registry:    registry,
		health:      health,
		providers:   providers,
		logger:      logger,
	}
}

// GetStatus returns the availability verdict for one provider.
func (r *Resolver) GetStatus(ctx context.Context, merchantID uuid.UUID, p Provider) (Status, error) {
	if !p.Valid() {
		return Status{Provider: p, Reason: ReasonNotSupported}, nil
	}
	if p == Demo {
		return Status{Provider: Demo, Configured: true, Enabled: true, Healthy: true, Reason: ReasonOK}, nil
	}
	if !r.registry.Registered()[p] {
		return Status{Provider: p, Reason: ReasonNotImplemented}, nil
	}

	configured, enabled, err := r.resolveConfigured(ctx, merchantID, p)
	if err != nil {
		return Status{}, err
	}
	if !configured {
		return Status{Provider: p, Reason: ReasonNotConfigured}, nil
	}
	if !enabled {
		return Status{Provider: p, Configured: true, Reason: ReasonDisabled}, nil
	}

	healthy, err := r.health.Healthy(ctx, p)
	if err != nil {
		return Status{}, err
	}
	if !healthy {
		return Status{Provider: p, Configured: true, Enabled: true, Reason: ReasonUnhealthy}, nil
	}
	return Status{Provider: p, Configured: true, Enabled: true, Healthy: true, Reason: ReasonOK}, nil
}

// ListForMerchant returns statuses for every known provider, in the
// canonical order.
func (r *Resolver) ListForMerchant(ctx context.Context, merchantID uuid.UUID) ([]Status, error) {
	statuses := make([]Status, 0, len(Ordered))
	for _, p := range Ordered {
		st, err := r.GetStatus(ctx, merchantID, p)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// AvailableProviders returns the real providers currently able to take
// traffic for the merchant, in canonical order. DEMO is never a routing
// candidate and excluded providers are skipped without evaluation.
func (r *Resolver) AvailableProviders(ctx context.Context, merchantID uuid.UUID, excluded map[Provider]bool) ([]Provider, error) {
	var available []Provider
	for _, p := range Ordered {
		if p == Demo || excluded[p] {
			continue
		}
		st, err := r.GetStatus(ctx, merchantID, p)
		if err != nil {
			return nil, err
		}
		if st.Available() {
			available = append(available, p)
		}
	}
	return available, nil
}

// ResolveConfig returns the effective credential map for the provider,
// preferring merchant credentials over the global tier. The second return
// reports whether the provider is configured at all.
func (r *Resolver) ResolveConfig(ctx context.Context, merchantID uuid.UUID, p Provider) (map[string]string, bool, error) {
	cred, err := r.credentials.Find(ctx, merchantID, p)
	if err != nil {
		return nil, false, err
	}
	if cred != nil && credentialComplete(p, cred.Config) {
		return cred.Config, true, nil
	}

	global := r.globalConfig(p)
	if global != nil {
		return global, true, nil
	}
	return nil, false, nil
}

// resolveConfigured determines the configured and enabled bits with
// merchant precedence. A merchant row that exists but is incomplete falls
// back to the global tier for the configured bit while keeping the
// merchant's enabled flag.
func (r *Resolver) resolveConfigured(ctx context.Context, merchantID uuid.UUID, p Provider) (configured, enabled bool, err error) {
	cred, err := r.credentials.Find(ctx, merchantID, p)
	if err != nil {
		return false, false, err
	}
	if cred != nil {
		if credentialComplete(p, cred.Config) {
			return true, cred.Enabled, nil
		}
		return r.globalConfig(p) != nil, cred.Enabled, nil
	}
	return r.globalConfig(p) != nil, true, nil
}

// globalConfig maps the environment-tier credentials to the adapter config
// shape, or nil when the provider is not globally configured.
func (r *Resolver) globalConfig(p Provider) map[string]string {
	switch p {
	case Stripe:
		if !r.providers.Stripe.Configured() {
			return nil
		}
		return map[string]string{
			"secretKey":      r.providers.Stripe.SecretKey,
			"publishableKey": r.providers.Stripe.PublishableKey,
			"webhookSecret":  r.providers.Stripe.WebhookSecret,
		}
	case Adyen:
		if !r.providers.Adyen.Configured() {
			return nil
		}
		return map[string]string{
			"apiKey":          r.providers.Adyen.APIKey,
			"merchantAccount": r.providers.Adyen.MerchantAccount,
			"clientKey":       r.providers.Adyen.ClientKey,
			"hmacKey":         r.providers.Adyen.HMACKey,
			"environment":     r.providers.Adyen.Environment,
		}
	default:
		return nil
	}
}

// credentialComplete reports whether a merchant credential set carries all
// required fields for its provider.
func credentialComplete(p Provider, config map[string]string) bool {
	schema, ok := schemas[p]
	if !ok {
		return false
	}
	return len(missingRequired(schema, config)) == 0
}
