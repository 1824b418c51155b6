package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCheckoutConfigNotFound is returned when no checkout config exists
// for an intent (expired or never created).
var ErrCheckoutConfigNotFound = errors.New("checkout config not found")

// checkoutConfigTTL bounds how long a checkout stays renderable.
const checkoutConfigTTL = 24 * time.Hour

// Cipher encrypts checkout configs at rest. They can carry provider
// client secrets, so they are never stored in the clear.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(token string) ([]byte, error)
}

// CheckoutConfigStore keeps per-intent checkout configs in Redis,
// encrypted and with a bounded lifetime. The config is client-facing
// state, not part of the durable payment record.
type CheckoutConfigStore struct {
	rdb    redis.UniversalClient
	cipher Cipher
}

// NewCheckoutConfigStore creates a checkout config store.
func NewCheckoutConfigStore(rdb redis.UniversalClient, cipher Cipher) *CheckoutConfigStore {
	return &CheckoutConfigStore{rdb: rdb, cipher: cipher}
}

func checkoutKey(intentID uuid.UUID) string {
	return "checkout_config:" + intentID.String()
}

// Upsert stores the checkout config for an intent, resetting the TTL.
func (s *CheckoutConfigStore) Upsert(ctx context.Context, intentID uuid.UUID, config map[string]any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode checkout config: %w", err)
	}
	enc, err := s.cipher.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("encrypt checkout config: %w", err)
	}
	if err := s.rdb.Set(ctx, checkoutKey(intentID), enc, checkoutConfigTTL).Err(); err != nil {
		return fmt.Errorf("store checkout config: %w", err)
	}
	return nil
}

// Get returns the checkout config for an intent.
func (s *CheckoutConfigStore) Get(ctx context.Context, intentID uuid.UUID) (map[string]any, error) {
	enc, err := s.rdb.Get(ctx, checkoutKey(intentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCheckoutConfigNotFound
		}
		return nil, fmt.Errorf("load checkout config: %w", err)
	}
	raw, err := s.cipher.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("decrypt checkout config: %w", err)
	}
	var config map[string]any
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decode checkout config: %w", err)
	}
	return config, nil
}
