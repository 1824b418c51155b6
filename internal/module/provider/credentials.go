package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/routepay/server/internal/shared/errors"
	"gorm.io/gorm"
)

// Schema declares which credential fields a provider requires.
type Schema struct {
	Required []string
	Optional []string
}

// schemas is the per-provider credential field schema, built at startup.
var schemas = map[Provider]Schema{
	Stripe:    {Required: []string{"secretKey", "publishableKey"}, Optional: []string{"webhookSecret"}},
	Adyen:     {Required: []string{"apiKey", "merchantAccount", "clientKey"}, Optional: []string{"hmacKey", "environment"}},
	PayPal:    {Required: []string{"clientId", "clientSecret"}, Optional: []string{"environment"}},
	Transbank: {Required: []string{"commerceCode", "apiKey"}, Optional: []string{"environment"}},
}

// SchemaFor returns the credential schema for a provider.
func SchemaFor(p Provider) (Schema, bool) {
	s, ok := schemas[p]
	return s, ok
}

// MerchantCredential is a merchant's encrypted credential set for one provider.
type MerchantCredential struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MerchantID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_merchant_provider"`
	Provider      Provider  `gorm:"not null;uniqueIndex:idx_merchant_provider"`
	Enabled       bool      `gorm:"not null;default:true"`
	ConfigJSONEnc string    `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the database table name.
func (MerchantCredential) TableName() string {
	return "merchant_provider_configs"
}

// CredentialRepository defines data access for merchant credentials.
type CredentialRepository interface {
	Find(ctx context.Context, merchantID uuid.UUID, p Provider) (*MerchantCredential, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*MerchantCredential, error)
	Save(ctx context.Context, cred *MerchantCredential) error
}

// ErrCredentialNotFound is returned when no credential row exists.
var ErrCredentialNotFound = errors.New("provider credential not found")

type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a gorm-backed credential repository.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Find(ctx context.Context, merchantID uuid.UUID, p Provider) (*MerchantCredential, error) {
	var cred MerchantCredential
	err := r.db.WithContext(ctx).
		First(&cred, "merchant_id = ? AND provider = ?", merchantID, p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return &cred, nil
}

func (r *credentialRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*MerchantCredential, error) {
	var creds []*MerchantCredential
	if err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

func (r *credentialRepository) Save(ctx context.Context, cred *MerchantCredential) error {
	if err := r.db.WithContext(ctx).Save(cred).Error; err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Cipher is the encryption-at-rest dependency for credential payloads.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(token string) ([]byte, error)
}

// ResolvedCredential is a decrypted merchant credential view.
type ResolvedCredential struct {
	Provider Provider
	Enabled  bool
	Config   map[string]string
}

// CredentialView is the masked admin-facing view of a credential set.
type CredentialView struct {
	Provider     Provider          `json:"provider"`
	Enabled      bool              `json:"enabled"`
	Config       map[string]string `json:"config"`
	Configurable bool              `json:"configurable"`
}

// CredentialService manages per-merchant encrypted provider credentials.
type CredentialService struct {
	repo   CredentialRepository
	cipher Cipher
}

// NewCredentialService creates a credential service.
func NewCredentialService(repo CredentialRepository, cipher Cipher) *CredentialService {
	return &CredentialService{repo: repo, cipher: cipher}
}

// Find returns the decrypted merchant credential for a provider, if present.
func (s *CredentialService) Find(ctx context.Context, merchantID uuid.UUID, p Provider) (*ResolvedCredential, error) {
	cred, err := s.repo.Find(ctx, merchantID, p)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, nil
		}
		return nil, err
	}
	config, err := s.decrypt(cred.ConfigJSONEnc)
	if err != nil {
		return nil, err
	}
	return &ResolvedCredential{Provider: p, Enabled: cred.Enabled, Config: config}, nil
}

// List returns masked credential views for every configurable provider.
func (s *CredentialService) List(ctx context.Context, merchantID uuid.UUID) ([]CredentialView, error) {
	creds, err := s.repo.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	byProvider := make(map[Provider]*MerchantCredential, len(creds))
	for _, c := range creds {
		byProvider[c.Provider] = c
	}

	views := make([]CredentialView, 0, len(Ordered))
	for _, p := range Ordered {
		if p == Demo {
			views = append(views, CredentialView{Provider: p, Enabled: true, Config: map[string]string{}, Configurable: false})
			continue
		}
		cred, ok := byProvider[p]
		if !ok {
			views = append(views, CredentialView{Provider: p, Enabled: false, Config: map[string]string{}, Configurable: true})
			continue
		}
		config, err := s.decrypt(cred.ConfigJSONEnc)
		if err != nil {
			return nil, err
		}
		views = append(views, CredentialView{Provider: p, Enabled: cred.Enabled, Config: MaskConfig(p, config), Configurable: true})
	}
	return views, nil
}

// Upsert merges and stores credentials for a provider. Required fields
// are validated only when the provider is being enabled.
func (s *CredentialService) Upsert(ctx context.Context, merchantID uuid.UUID, p Provider, enabled *bool, updates map[string]string) (*CredentialView, error) {
	if p == Demo {
		return nil, apperrors.BadRequest("DEMO does not require configuration")
	}
	schema, ok := schemas[p]
	if !ok {
		return nil, apperrors.BadRequest(fmt.Sprintf("provider %s is not configurable", p))
	}

	cred, err := s.repo.Find(ctx, merchantID, p)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return nil, err
	}

	existing := map[string]string{}
	if cred != nil {
		if existing, err = s.decrypt(cred.ConfigJSONEnc); err != nil {
			return nil, err
		}
	} else {
		cred = &MerchantCredential{
			ID:         uuid.New(),
			MerchantID: merchantID,
			Provider:   p,
		}
	}

	on := true
	if enabled != nil {
		on = *enabled
	}

	merged := mergeConfig(existing, updates)
	if on {
		if missing := missingRequired(schema, merged); len(missing) > 0 {
			return nil, apperrors.BadRequest(fmt.Sprintf(
				"missing required config values for %s: %s", p, strings.Join(missing, ", ")))
		}
	}

	enc, err := s.encrypt(merged)
	if err != nil {
		return nil, err
	}
	cred.Enabled = on
	cred.ConfigJSONEnc = enc
	if err := s.repo.Save(ctx, cred); err != nil {
		return nil, err
	}

	return &CredentialView{Provider: p, Enabled: on, Config: MaskConfig(p, merged), Configurable: true}, nil
}

// Disable turns a provider off for a merchant without dropping its config.
func (s *CredentialService) Disable(ctx context.Context, merchantID uuid.UUID, p Provider) (*CredentialView, error) {
	if p == Demo {
		return &CredentialView{Provider: p, Enabled: true, Config: map[string]string{}, Configurable: false}, nil
	}
	if _, ok := schemas[p]; !ok {
		return nil, apperrors.BadRequest(fmt.Sprintf("provider %s is not configurable", p))
	}

	cred, err := s.repo.Find(ctx, merchantID, p)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return &CredentialView{Provider: p, Enabled: false, Config: map[string]string{}, Configurable: true}, nil
		}
		return nil, err
	}

	cred.Enabled = false
	if err := s.repo.Save(ctx, cred); err != nil {
		return nil, err
	}
	config, err := s.decrypt(cred.ConfigJSONEnc)
	if err != nil {
		return nil, err
	}
	return &CredentialView{Provider: p, Enabled: false, Config: MaskConfig(p, config), Configurable: true}, nil
}

func (s *CredentialService) decrypt(token string) (map[string]string, error) {
	if token == "" {
		return map[string]string{}, nil
	}
	raw, err := s.cipher.Decrypt(token)
	if err != nil {
		return nil, fmt.Errorf("decrypt provider config: %w", err)
	}
	var config map[string]string
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decode provider config: %w", err)
	}
	if config == nil {
		config = map[string]string{}
	}
	return config, nil
}

func (s *CredentialService) encrypt(config map[string]string) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode provider config: %w", err)
	}
	token, err := s.cipher.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("encrypt provider config: %w", err)
	}
	return token, nil
}

// mergeConfig overlays non-blank updates on the existing config.
func mergeConfig(base, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(updates))
	for k, v := range base {
		if strings.TrimSpace(v) != "" {
			merged[k] = strings.TrimSpace(v)
		}
	}
	for k, v := range updates {
		if strings.TrimSpace(v) != "" {
			merged[k] = strings.TrimSpace(v)
		}
	}
	return merged
}

func missingRequired(schema Schema, config map[string]string) []string {
	var missing []string
	for _, key := range schema.Required {
		if strings.TrimSpace(config[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// MaskConfig masks all known credential values for admin display.
func MaskConfig(p Provider, config map[string]string) map[string]string {
	schema, ok := schemas[p]
	if !ok {
		return map[string]string{}
	}
	masked := make(map[string]string)
	for _, key := range append(append([]string{}, schema.Required...), schema.Optional...) {
		raw, ok := config[key]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		masked[key] = maskValue(raw)
	}
	return masked
}

// maskValue shows at most the first and last 4 characters.
func maskValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= 4 {
		return "****"
	}
	head := 4
	tail := len(trimmed) - head
	if tail > 4 {
		tail = 4
	}
	return trimmed[:head] + "****" + trimmed[len(trimmed)-tail:]
}
