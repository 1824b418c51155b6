package merchant

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memRepository is an in-memory merchant repository for tests.
type memRepository struct {
	byID map[uuid.UUID]*Merchant
}

func newMemRepository() *memRepository {
	return &memRepository{byID: make(map[uuid.UUID]*Merchant)}
}

func (r *memRepository) Create(_ context.Context, m *Merchant) error {
	copied := *m
	r.byID[m.ID] = &copied
	return nil
}

func (r *memRepository) GetByID(_ context.Context, id uuid.UUID) (*Merchant, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *memRepository) GetByEmail(_ context.Context, email string) (*Merchant, error) {
	for _, m := range r.byID {
		if m.Email == email {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrMerchantNotFound
}

func (r *memRepository) GetByAPIKeyHash(_ context.Context, hash string) (*Merchant, error) {
	for _, m := range r.byID {
		if m.APIKeyHash == hash {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrMerchantNotFound
}

func (r *memRepository) Update(_ context.Context, m *Merchant) error {
	copied := *m
	r.byID[m.ID] = &copied
	return nil
}

func newTestService() (*Service, *memRepository) {
	repo := newMemRepository()
	return NewService(repo, zap.NewNop()), repo
}

func TestServiceRegister(t *testing.T) {
	svc, _ := newTestService()
	req := &RegisterRequest{Name: "Acme", Email: "acme@example.com", Password: "hunter2secret"}

	m, apiKey, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(apiKey, "rpk_"))
	assert.NotEqual(t, apiKey, m.APIKeyHash)
	assert.Equal(t, MerchantStatusActive, m.Status)

	t.Run("duplicate email rejected", func(t *testing.T) {
		_, _, err := svc.Register(context.Background(), req)
		assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, _, err := svc.Register(context.Background(), &RegisterRequest{
			Name: "Other", Email: "other@example.com", Password: "short",
		})
		assert.ErrorIs(t, err, ErrPasswordTooShort)
	})
}

func TestServiceAuthenticate(t *testing.T) {
	svc, repo := newTestService()
	m, _, err := svc.Register(context.Background(), &RegisterRequest{
		Name: "Acme", Email: "acme@example.com", Password: "hunter2secret",
	})
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		got, err := svc.Authenticate(context.Background(), "acme@example.com", "hunter2secret")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "acme@example.com", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "nobody@example.com", "hunter2secret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("suspended merchant", func(t *testing.T) {
		stored := repo.byID[m.ID]
		stored.Status = MerchantStatusSuspended
		_, err := svc.Authenticate(context.Background(), "acme@example.com", "hunter2secret")
		assert.ErrorIs(t, err, ErrMerchantSuspended)
	})
}

func TestServiceAuthenticateAPIKey(t *testing.T) {
	svc, _ := newTestService()
	m, apiKey, err := svc.Register(context.Background(), &RegisterRequest{
		Name: "Acme", Email: "acme@example.com", Password: "hunter2secret",
	})
	require.NoError(t, err)

	got, err := svc.AuthenticateAPIKey(context.Background(), apiKey)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = svc.AuthenticateAPIKey(context.Background(), "rpk_bogus")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = svc.AuthenticateAPIKey(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestServiceRotateAPIKey(t *testing.T) {
	svc, _ := newTestService()
	m, oldKey, err := svc.Register(context.Background(), &RegisterRequest{
		Name: "Acme", Email: "acme@example.com", Password: "hunter2secret",
	})
	require.NoError(t, err)

	newKey, err := svc.RotateAPIKey(context.Background(), m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	_, err = svc.AuthenticateAPIKey(context.Background(), oldKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	got, err := svc.AuthenticateAPIKey(context.Background(), newKey)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestServiceRoutingOverrides(t *testing.T) {
	svc, _ := newTestService()
	m, _, err := svc.Register(context.Background(), &RegisterRequest{
		Name: "Acme", Email: "acme@example.com", Password: "hunter2secret",
	})
	require.NoError(t, err)

	overrides, err := svc.RoutingOverrides(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Nil(t, overrides)

	want := map[string]any{"forceProvider": "ADYEN"}
	require.NoError(t, svc.UpdateRoutingOverrides(context.Background(), m.ID, want))

	overrides, err = svc.RoutingOverrides(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "ADYEN", overrides["forceProvider"])
}
