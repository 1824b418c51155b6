package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/shared/config"
)

// plainCipher stores payloads unencrypted for tests.
type plainCipher struct{}

func (plainCipher) Encrypt(plaintext []byte) (string, error) { return string(plaintext), nil }
func (plainCipher) Decrypt(token string) ([]byte, error)     { return []byte(token), nil }

// memCredentialRepo is an in-memory CredentialRepository.
type memCredentialRepo struct {
	creds map[string]*MerchantCredential
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{creds: make(map[string]*MerchantCredential)}
}

func credKey(merchantID uuid.UUID, p Provider) string {
	return merchantID.String() + "/" + string(p)
}

func (r *memCredentialRepo) Find(_ context.Context, merchantID uuid.UUID, p Provider) (*MerchantCredential, error) {
	cred, ok := r.creds[credKey(merchantID, p)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}

func (r *memCredentialRepo) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]*MerchantCredential, error) {
	var out []*MerchantCredential
	for _, cred := range r.creds {
		if cred.MerchantID == merchantID {
			copied := *cred
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memCredentialRepo) Save(_ context.Context, cred *MerchantCredential) error {
	copied := *cred
	r.creds[credKey(cred.MerchantID, cred.Provider)] = &copied
	return nil
}

// stubHealth gates providers by a fixed map, defaulting to healthy.
type stubHealth struct {
	unhealthy map[Provider]bool
}

func (s *stubHealth) Healthy(_ context.Context, p Provider) (bool, error) {
	return !s.unhealthy[p], nil
}

func (r *memCredentialRepo) put(t *testing.T, merchantID uuid.UUID, p Provider, enabled bool, cfg map[string]string) {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	r.creds[credKey(merchantID, p)] = &MerchantCredential{
		ID:            uuid.New(),
		MerchantID:    merchantID,
		Provider:      p,
		Enabled:       enabled,
		ConfigJSONEnc: string(raw),
	}
}

func newTestResolver(repo *memCredentialRepo, health HealthGate, providers config.ProvidersConfig) *Resolver {
	registry := NewRegistry()
	logger := zap.NewNop()
	registry.Register(NewStripeAdapter(logger))
	registry.Register(NewAdyenAdapter(logger))
	registry.Register(NewDemoAdapter("http://localhost:8080", logger))
	return NewResolver(NewCredentialService(repo, plainCipher{}), registry, health, providers, logger)
}

func TestResolverGetStatus(t *testing.T) {
	merchantID := uuid.New()
	globalStripe := config.ProvidersConfig{
		Stripe: config.StripeConfig{SecretKey: "sk_test_abc", PublishableKey: "pk_test_abc"},
	}

	t.Run("demo is always available", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, config.ProvidersConfig{})
		st, err := resolver.GetStatus(context.Background(), merchantID, Demo)
		require.NoError(t, err)
		assert.True(t, st.Available())
		assert.Equal(t, ReasonOK, st.Reason)
	})

	t.Run("unknown provider is not supported", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, config.ProvidersConfig{})
		st, err := resolver.GetStatus(context.Background(), merchantID, Provider("BOGUS"))
		require.NoError(t, err)
		assert.False(t, st.Available())
		assert.Equal(t, ReasonNotSupported, st.Reason)
	})

	t.Run("provider without adapter is not implemented", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, config.ProvidersConfig{})
		st, err := resolver.GetStatus(context.Background(), merchantID, PayPal)
		require.NoError(t, err)
		assert.Equal(t, ReasonNotImplemented, st.Reason)
	})

	t.Run("no credentials anywhere is not configured", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, config.ProvidersConfig{})
		st, err := resolver.GetStatus(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		assert.Equal(t, ReasonNotConfigured, st.Reason)
	})

	t.Run("global credentials make provider available", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, globalStripe)
		st, err := resolver.GetStatus(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		assert.True(t, st.Available())
		assert.Equal(t, ReasonOK, st.Reason)
	})

	t.Run("disabled merchant credential wins over global", func(t *testing.T) {
		repo := newMemCredentialRepo()
		repo.put(t, merchantID, Stripe, false, map[string]string{
			"secretKey": "sk_live_merchant", "publishableKey": "pk_live_merchant",
		})
		resolver := newTestResolver(repo, &stubHealth{}, globalStripe)
		st, err := resolver.GetStatus(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		assert.False(t, st.Available())
		assert.Equal(t, ReasonDisabled, st.Reason)
	})

	t.Run("open circuit makes provider unhealthy", func(t *testing.T) {
		health := &stubHealth{unhealthy: map[Provider]bool{Stripe: true}}
		resolver := newTestResolver(newMemCredentialRepo(), health, globalStripe)
		st, err := resolver.GetStatus(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		assert.False(t, st.Available())
		assert.Equal(t, ReasonUnhealthy, st.Reason)
	})
}

func TestResolverAvailableProviders(t *testing.T) {
	merchantID := uuid.New()
	repo := newMemCredentialRepo()
	repo.put(t, merchantID, Adyen, true, map[string]string{
		"apiKey": "AQEyhmfx", "merchantAccount": "TestECOM", "clientKey": "test_key",
	})
	providers := config.ProvidersConfig{
		Stripe: config.StripeConfig{SecretKey: "sk_test_abc", PublishableKey: "pk_test_abc"},
	}
	resolver := newTestResolver(repo, &stubHealth{}, providers)

	t.Run("ordered and demo excluded", func(t *testing.T) {
		available, err := resolver.AvailableProviders(context.Background(), merchantID, nil)
		require.NoError(t, err)
		assert.Equal(t, []Provider{Stripe, Adyen}, available)
	})

	t.Run("exclusions are skipped", func(t *testing.T) {
		available, err := resolver.AvailableProviders(context.Background(), merchantID, map[Provider]bool{Stripe: true})
		require.NoError(t, err)
		assert.Equal(t, []Provider{Adyen}, available)
	})
}

func TestResolverResolveConfig(t *testing.T) {
	merchantID := uuid.New()
	providers := config.ProvidersConfig{
		Stripe: config.StripeConfig{SecretKey: "sk_global", PublishableKey: "pk_global"},
	}

	t.Run("merchant credentials take precedence", func(t *testing.T) {
		repo := newMemCredentialRepo()
		repo.put(t, merchantID, Stripe, true, map[string]string{
			"secretKey": "sk_merchant", "publishableKey": "pk_merchant",
		})
		resolver := newTestResolver(repo, &stubHealth{}, providers)
		cfg, ok, err := resolver.ResolveConfig(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sk_merchant", cfg["secretKey"])
	})

	t.Run("incomplete merchant credentials fall back to global", func(t *testing.T) {
		repo := newMemCredentialRepo()
		repo.put(t, merchantID, Stripe, true, map[string]string{"secretKey": "sk_merchant"})
		resolver := newTestResolver(repo, &stubHealth{}, providers)
		cfg, ok, err := resolver.ResolveConfig(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sk_global", cfg["secretKey"])
	})

	t.Run("unconfigured provider reports not ok", func(t *testing.T) {
		resolver := newTestResolver(newMemCredentialRepo(), &stubHealth{}, providers)
		_, ok, err := resolver.ResolveConfig(context.Background(), merchantID, Adyen)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
