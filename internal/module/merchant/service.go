package merchant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/routepay/server/internal/shared/crypto"
)

// Service provides merchant account operations.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new merchant service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register creates a new merchant account. The returned API key is shown
// once and only its hash is stored.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Merchant, string, error) {
	existing, err := s.repo.GetByEmail(ctx, req.Email)
	if err == nil && existing != nil {
		return nil, "", ErrEmailAlreadyExists
	}
	if err != nil && err != ErrMerchantNotFound {
		return nil, "", fmt.Errorf("check email: %w", err)
	}

	if len(req.Password) < 8 {
		return nil, "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	m := &Merchant{
		ID:           uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		APIKeyHash:   crypto.SHA256Hex(apiKey),
		Status:       MerchantStatusActive,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, "", fmt.Errorf("create merchant: %w", err)
	}

	s.logger.Info("merchant registered",
		zap.String("merchant_id", m.ID.String()),
		zap.String("email", m.Email),
	)
	return m, apiKey, nil
}

// Authenticate verifies email and password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Merchant, error) {
	m, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if err == ErrMerchantNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if m.Status == MerchantStatusSuspended {
		return nil, ErrMerchantSuspended
	}
	return m, nil
}

// AuthenticateAPIKey looks up a merchant by its API key.
func (s *Service) AuthenticateAPIKey(ctx context.Context, apiKey string) (*Merchant, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	m, err := s.repo.GetByAPIKeyHash(ctx, crypto.SHA256Hex(apiKey))
	if err != nil {
		if err == ErrMerchantNotFound {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if m.Status == MerchantStatusSuspended {
		return nil, ErrMerchantSuspended
	}
	return m, nil
}

// Get returns a merchant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Merchant, error) {
	return s.repo.GetByID(ctx, id)
}

// RotateAPIKey replaces the merchant's API key and returns the new key.
func (s *Service) RotateAPIKey(ctx context.Context, id uuid.UUID) (string, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	apiKey, err := generateAPIKey()
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	m.APIKeyHash = crypto.SHA256Hex(apiKey)
	if err := s.repo.Update(ctx, m); err != nil {
		return "", fmt.Errorf("update merchant: %w", err)
	}
	s.logger.Info("merchant api key rotated", zap.String("merchant_id", id.String()))
	return apiKey, nil
}

// RoutingOverrides returns the merchant's routing overrides as a raw JSON
// map, or nil when the merchant uses platform defaults.
func (s *Service) RoutingOverrides(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.RoutingConfigJSON == "" {
		return nil, nil
	}
	var overrides map[string]any
	if err := json.Unmarshal([]byte(m.RoutingConfigJSON), &overrides); err != nil {
		return nil, fmt.Errorf("decode routing overrides: %w", err)
	}
	return overrides, nil
}

// UpdateRoutingOverrides replaces the merchant's routing overrides.
func (s *Service) UpdateRoutingOverrides(ctx context.Context, id uuid.UUID, overrides map[string]any) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode routing overrides: %w", err)
	}
	m.RoutingConfigJSON = string(raw)
	if err := s.repo.Update(ctx, m); err != nil {
		return fmt.Errorf("update merchant: %w", err)
	}
	return nil
}

// APIKeyAuthenticator adapts the service to the auth middleware contract.
type APIKeyAuthenticator struct {
	service *Service
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(service *Service) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{service: service}
}

// AuthenticateAPIKey resolves an API key to the merchant id.
func (a *APIKeyAuthenticator) AuthenticateAPIKey(ctx context.Context, apiKey string) (uuid.UUID, error) {
	m, err := a.service.AuthenticateAPIKey(ctx, apiKey)
	if err != nil {
		return uuid.Nil, err
	}
	return m.ID, nil
}

// generateAPIKey produces a 256-bit key with a recognizable prefix.
func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "rpk_" + hex.EncodeToString(raw), nil
}
