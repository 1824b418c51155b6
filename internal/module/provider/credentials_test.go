package provider

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"short value fully masked", "abc", "****"},
		{"four chars fully masked", "abcd", "****"},
		{"long value keeps edges", "sk_test_5112887766", "sk_t****7766"},
		{"mid length keeps short tail", "abcdef", "abcd****ef"},
		{"whitespace trimmed", "  abc  ", "****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskValue(tt.raw))
		})
	}
}

func TestMaskConfig(t *testing.T) {
	masked := MaskConfig(Stripe, map[string]string{
		"secretKey":      "sk_test_5112887766",
		"publishableKey": "pk_test_5112887766",
		"unknownField":   "should not appear",
	})
	assert.Equal(t, "sk_t****7766", masked["secretKey"])
	assert.Equal(t, "pk_t****7766", masked["publishableKey"])
	assert.NotContains(t, masked, "unknownField")
}

func TestCredentialServiceUpsert(t *testing.T) {
	merchantID := uuid.New()

	t.Run("enabling without required fields fails", func(t *testing.T) {
		svc := NewCredentialService(newMemCredentialRepo(), plainCipher{})
		_, err := svc.Upsert(context.Background(), merchantID, Stripe, nil, map[string]string{
			"secretKey": "sk_test_abc",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publishableKey")
	})

	t.Run("blank updates keep existing values", func(t *testing.T) {
		repo := newMemCredentialRepo()
		svc := NewCredentialService(repo, plainCipher{})
		_, err := svc.Upsert(context.Background(), merchantID, Stripe, nil, map[string]string{
			"secretKey": "sk_test_abc", "publishableKey": "pk_test_abc",
		})
		require.NoError(t, err)

		_, err = svc.Upsert(context.Background(), merchantID, Stripe, nil, map[string]string{
			"secretKey": "  ", "publishableKey": "pk_test_next",
		})
		require.NoError(t, err)

		resolved, err := svc.Find(context.Background(), merchantID, Stripe)
		require.NoError(t, err)
		require.NotNil(t, resolved)
		assert.Equal(t, "sk_test_abc", resolved.Config["secretKey"])
		assert.Equal(t, "pk_test_next", resolved.Config["publishableKey"])
	})

	t.Run("disabling skips required validation", func(t *testing.T) {
		svc := NewCredentialService(newMemCredentialRepo(), plainCipher{})
		off := false
		view, err := svc.Upsert(context.Background(), merchantID, Stripe, &off, map[string]string{
			"secretKey": "sk_test_abc",
		})
		require.NoError(t, err)
		assert.False(t, view.Enabled)
	})

	t.Run("demo is not configurable", func(t *testing.T) {
		svc := NewCredentialService(newMemCredentialRepo(), plainCipher{})
		_, err := svc.Upsert(context.Background(), merchantID, Demo, nil, nil)
		assert.Error(t, err)
	})
}

func TestCredentialServiceFind(t *testing.T) {
	svc := NewCredentialService(newMemCredentialRepo(), plainCipher{})
	resolved, err := svc.Find(context.Background(), uuid.New(), Stripe)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestCredentialServiceList(t *testing.T) {
	merchantID := uuid.New()
	repo := newMemCredentialRepo()
	repo.put(t, merchantID, Stripe, true, map[string]string{
		"secretKey": "sk_test_5112887766", "publishableKey": "pk_test_5112887766",
	})
	svc := NewCredentialService(repo, plainCipher{})

	views, err := svc.List(context.Background(), merchantID)
	require.NoError(t, err)
	require.Len(t, views, len(Ordered))

	byProvider := make(map[Provider]CredentialView, len(views))
	for _, v := range views {
		byProvider[v.Provider] = v
	}

	stripe := byProvider[Stripe]
	assert.True(t, stripe.Enabled)
	assert.Equal(t, "sk_t****7766", stripe.Config["secretKey"])

	demo := byProvider[Demo]
	assert.True(t, demo.Enabled)
	assert.False(t, demo.Configurable)

	adyen := byProvider[Adyen]
	assert.False(t, adyen.Enabled)
	assert.True(t, adyen.Configurable)
}
