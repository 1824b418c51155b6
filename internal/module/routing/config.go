package routing

import (
	"encoding/json"
	"strings"

	"github.com/routepay/server/internal/module/provider"
)

// Weights are the scoring coefficients. All five apply to values in
// [0,1]; cost, latency and risk subtract from the score.
type Weights struct {
	SuccessRate  float64 `json:"successRate"`
	Cost         float64 `json:"cost"`
	Latency      float64 `json:"latency"`
	Availability float64 `json:"availability"`
	Risk         float64 `json:"risk"`
}

// DefaultWeights returns the platform scoring coefficients.
func DefaultWeights() Weights {
	return Weights{
		SuccessRate:  0.55,
		Cost:         0.15,
		Latency:      0.15,
		Availability: 0.10,
		Risk:         0.05,
	}
}

// Config is a merchant's routing configuration, stored as JSON on the
// merchant record.
type Config struct {
	ForceProvider string                        `json:"forceProvider"`
	Weights       *Weights                      `json:"weights"`
	CostModel     map[provider.Provider]float64 `json:"costModel"`
}

// DefaultConfig returns the platform routing configuration.
func DefaultConfig() Config {
	weights := DefaultWeights()
	return Config{
		ForceProvider: "AUTO",
		Weights:       &weights,
		CostModel: map[provider.Provider]float64{
			provider.Stripe: 0.30,
			provider.Adyen:  0.25,
		},
	}
}

// ParseConfig decodes a merchant routing config, falling back to platform
// defaults for anything missing or malformed.
func ParseConfig(raw string) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(raw) == "" {
		return defaults
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return defaults
	}
	if cfg.Weights == nil {
		cfg.Weights = defaults.Weights
	}
	if len(cfg.CostModel) == 0 {
		cfg.CostModel = defaults.CostModel
	}
	return cfg
}

// Forced returns the forced provider, or false when routing is automatic.
func (c Config) Forced() (provider.Provider, bool) {
	force := strings.ToUpper(strings.TrimSpace(c.ForceProvider))
	if force == "" || force == "AUTO" {
		return "", false
	}
	return provider.Provider(force), true
}

// CostScore returns the merchant cost-model value for a provider,
// defaulting to 0.3.
func (c Config) CostScore(p provider.Provider) float64 {
	if v, ok := c.CostModel[p]; ok {
		return v
	}
	return 0.3
}
