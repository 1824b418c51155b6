package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/module/health"
	"github.com/routepay/server/internal/module/provider"
)

// Reason codes attached to routing decisions.
const (
	ReasonExplicitPreference = "EXPLICIT_PREFERENCE"
	ReasonMerchantForce      = "MERCHANT_FORCE_PROVIDER"
	ReasonWeightedScore      = "WEIGHTED_SCORE"
	ReasonHealthDegraded     = "HEALTH_DEGRADED_NO_ALTERNATIVE"
	ReasonInstantFallback    = "INSTANT_FALLBACK"
	ReasonDemoMode           = "DEMO_MODE"
)

// tieEpsilon is the score distance below which two candidates tie.
const tieEpsilon = 1e-6

// SnapshotReader provides the health inputs for scoring.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, p provider.Provider) (*health.View, error)
}

// Input carries everything one routing decision needs.
type Input struct {
	PaymentIntentID uuid.UUID
	AmountMinor     int64
	Currency        string
	Preference      provider.Preference
	// MerchantConfigJSON is the merchant's raw routing config.
	MerchantConfigJSON string
	// Candidates are the providers currently able to take traffic for
	// the merchant. The engine narrows them by exclusion and currency.
	Candidates []provider.Provider
	Excluded   map[provider.Provider]bool
}

// Decision is the outcome of a routing decision. CandidateScoresJSON is
// the full audit breakdown, persisted verbatim.
type Decision struct {
	Provider            provider.Provider
	ReasonCode          string
	CandidateScoresJSON string
}

// Engine picks a provider for a payment by weighted scoring over provider
// health, cost and amount risk, honoring explicit preferences and
// merchant-level forcing.
type Engine struct {
	health SnapshotReader
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a routing engine.
func NewEngine(health SnapshotReader, logger *zap.Logger) *Engine {
	return &Engine{health: health, logger: logger, now: time.Now}
}

type scoreBreakdown struct {
	total        float64
	costScore    float64
	latencyScore float64
	availability float64
	riskPenalty  float64
}

// Decide picks a provider. Explicit preference beats merchant force beats
// weighted scoring. OPEN-circuit candidates are skipped unless every
// candidate is OPEN, in which case the best of the degraded set is used
// and the reason reflects it.
func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	currency := strings.ToUpper(in.Currency)
	cfg := ParseConfig(in.MerchantConfigJSON)

	if !in.Preference.IsAuto() {
		chosen := in.Preference.Provider()
		if !chosen.SupportsCurrency(currency) {
			return nil, &UnsupportedCurrencyError{Provider: chosen, Currency: currency}
		}
		return e.buildDirect(ctx, in, cfg, currency, chosen, ReasonExplicitPreference)
	}

	if forced, ok := cfg.Forced(); ok {
		if !forced.SupportsCurrency(currency) {
			return nil, &UnsupportedCurrencyError{Provider: forced, Currency: currency}
		}
		return e.buildDirect(ctx, in, cfg, currency, forced, ReasonMerchantForce)
	}

	candidates := narrow(in.Candidates, in.Excluded, currency)
	if len(candidates) == 0 {
		return nil, &NoCandidateError{Currency: currency}
	}

	snapshots := make(map[provider.Provider]*health.View, len(candidates))
	for _, p := range candidates {
		snap, err := e.health.GetSnapshot(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("health snapshot for %s: %w", p, err)
		}
		snapshots[p] = snap
	}

	nonOpen := make([]provider.Provider, 0, len(candidates))
	for _, p := range candidates {
		if snapshots[p].CircuitState != health.CircuitOpen {
			nonOpen = append(nonOpen, p)
		}
	}
	effective := nonOpen
	reason := ReasonWeightedScore
	if len(nonOpen) == 0 {
		effective = candidates
		reason = ReasonHealthDegraded
	}

	breakdowns := make(map[provider.Provider]scoreBreakdown, len(effective))
	for _, p := range effective {
		breakdowns[p] = score(p, in.AmountMinor, cfg, snapshots[p])
	}

	chosen := chooseBest(in.PaymentIntentID, effective, breakdowns)

	e.logger.Debug("routing decision",
		zap.String("payment_intent_id", in.PaymentIntentID.String()),
		zap.String("provider", string(chosen)),
		zap.String("reason", reason),
	)
	return e.toDecision(chosen, reason, cfg, in.AmountMinor, currency, breakdowns, snapshots), nil
}

// buildDirect produces the decision for a preference or force, still
// scoring every currency-capable provider for the audit breakdown.
func (e *Engine) buildDirect(ctx context.Context, in Input, cfg Config, currency string, chosen provider.Provider, reason string) (*Decision, error) {
	snapshots := make(map[provider.Provider]*health.View)
	breakdowns := make(map[provider.Provider]scoreBreakdown)
	for _, p := range provider.Ordered {
		if !p.SupportsCurrency(currency) {
			continue
		}
		snap, err := e.health.GetSnapshot(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("health snapshot for %s: %w", p, err)
		}
		snapshots[p] = snap
		breakdowns[p] = score(p, in.AmountMinor, cfg, snap)
	}
	return e.toDecision(chosen, reason, cfg, in.AmountMinor, currency, breakdowns, snapshots), nil
}

func (e *Engine) toDecision(
	chosen provider.Provider,
	reason string,
	cfg Config,
	amountMinor int64,
	currency string,
	breakdowns map[provider.Provider]scoreBreakdown,
	snapshots map[provider.Provider]*health.View,
) *Decision {
	candidateScores := make(map[string]any, len(breakdowns))
	for p, b := range breakdowns {
		inputs := map[string]any{
			"costScore":         b.costScore,
			"latencyScore":      b.latencyScore,
			"availabilityScore": b.availability,
			"riskPenalty":       b.riskPenalty,
		}
		if snap := snapshots[p]; snap != nil {
			inputs["successRate"] = snap.SuccessRate
			inputs["errorRate"] = snap.ErrorRate
			inputs["p95LatencyMs"] = snap.P95LatencyMs
			inputs["circuitState"] = string(snap.CircuitState)
		}
		candidateScores[string(p)] = map[string]any{
			"score":  b.total,
			"inputs": inputs,
		}
	}

	raw, err := json.Marshal(map[string]any{
		"currency":    currency,
		"amountMinor": amountMinor,
		"weights":     cfg.Weights,
		"candidates":  candidateScores,
		"computedAt":  e.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		raw = []byte(`{"error":"candidate_scores_encoding_failed"}`)
	}

	return &Decision{
		Provider:            chosen,
		ReasonCode:          reason,
		CandidateScoresJSON: string(raw),
	}
}

// chooseBest picks the highest score. When the top two are within epsilon
// the intent id hashes to a stable bucket so retries land on the same
// provider.
func chooseBest(intentID uuid.UUID, candidates []provider.Provider, breakdowns map[provider.Provider]scoreBreakdown) provider.Provider {
	if len(candidates) == 1 {
		return candidates[0]
	}

	best := candidates[0]
	bestScore := breakdowns[best].total
	for _, p := range candidates {
		if s := breakdowns[p].total; s > bestScore {
			best = p
			bestScore = s
		}
	}

	var other provider.Provider
	for _, p := range candidates {
		if p != best {
			other = p
			break
		}
	}
	otherScore := breakdowns[other].total
	diff := bestScore - otherScore
	if diff < 0 {
		diff = -diff
	}
	if diff < tieEpsilon {
		if fnv1a32(intentID.String())%2 == 0 {
			return provider.Stripe
		}
		return provider.Adyen
	}
	return best
}

func score(p provider.Provider, amountMinor int64, cfg Config, snap *health.View) scoreBreakdown {
	w := cfg.Weights
	if w == nil {
		defaults := DefaultWeights()
		w = &defaults
	}

	var successRate, latencyScore float64
	availability := 1.0
	if snap != nil {
		successRate = clamp01(snap.SuccessRate)
		latencyScore = clamp01(float64(snap.P95LatencyMs) / 2000.0)
		switch snap.CircuitState {
		case health.CircuitClosed:
			availability = 1.0
		case health.CircuitHalfOpen:
			availability = 0.5
		case health.CircuitOpen:
			availability = 0.0
		}
	}
	costScore := clamp01(cfg.CostScore(p))
	riskPenalty := riskPenaltyFor(amountMinor)

	total := w.SuccessRate*successRate -
		w.Cost*costScore -
		w.Latency*latencyScore +
		w.Availability*availability -
		w.Risk*riskPenalty

	return scoreBreakdown{
		total:        total,
		costScore:    costScore,
		latencyScore: latencyScore,
		availability: availability,
		riskPenalty:  riskPenalty,
	}
}

// riskPenaltyFor keeps the historical branch ordering: the 200.00
// threshold shadows the 1000.00 one, so large amounts cap at 0.25.
func riskPenaltyFor(amountMinor int64) float64 {
	if amountMinor >= 20000 {
		return 0.25
	}
	if amountMinor >= 100000 {
		return 0.10
	}
	return 0
}

func narrow(candidates []provider.Provider, excluded map[provider.Provider]bool, currency string) []provider.Provider {
	out := make([]provider.Provider, 0, len(candidates))
	for _, p := range candidates {
		if excluded[p] {
			continue
		}
		if !p.SupportsCurrency(currency) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fnv1a32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
