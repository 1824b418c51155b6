package health

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routepay/server/internal/module/provider"
	"github.com/routepay/server/internal/shared/crypto"
	"github.com/routepay/server/internal/shared/metrics"
)

const (
	errorWindow           = 5 * time.Minute
	successWindow         = 15 * time.Minute
	successFallbackWindow = 24 * time.Hour
	openTTL               = 2 * time.Minute

	// consecutiveFailureLookback bounds the last-N failure check.
	consecutiveFailureLookback = 6 * time.Hour
	consecutiveFailureCount    = 5

	errorRateOpenThreshold = 0.20
)

// Tracker maintains per-provider health snapshots derived from the
// durable event log. Every mutation appends an event first, then
// recomputes the snapshot from the log, so the circuit state survives
// restarts.
type Tracker struct {
	repo    Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// Per-provider serialization of recompute. Readers do not lock.
	mu    sync.Mutex
	locks map[provider.Provider]*sync.Mutex
}

// NewTracker creates a health tracker.
func NewTracker(repo Repository, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	return &Tracker{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[provider.Provider]*sync.Mutex),
	}
}

// GetSnapshot returns the current health view for a provider, creating a
// CLOSED snapshot on first read. The returned circuit state accounts for
// the open-interval TTL without persisting the transition.
func (t *Tracker) GetSnapshot(ctx context.Context, p provider.Provider) (*View, error) {
	snap, err := t.loadOrInit(ctx, p)
	if err != nil {
		return nil, err
	}
	return &View{
		Provider:      p,
		CircuitState:  effectiveState(snap.CircuitState, snap.LastFailureAt, t.now()),
		SuccessRate:   snap.SuccessRate,
		ErrorRate:     snap.ErrorRate,
		P95LatencyMs:  snap.P95LatencyMs,
		LastFailureAt: snap.LastFailureAt,
		UpdatedAt:     snap.UpdatedAt,
	}, nil
}

// GetAllSnapshots returns views for every known provider in canonical order.
func (t *Tracker) GetAllSnapshots(ctx context.Context) ([]*View, error) {
	views := make([]*View, 0, len(provider.Ordered))
	for _, p := range provider.Ordered {
		v, err := t.GetSnapshot(ctx, p)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Healthy reports whether the provider's circuit admits new sessions.
// HALF_OPEN counts as healthy so a probe attempt can go through.
func (t *Tracker) Healthy(ctx context.Context, p provider.Provider) (bool, error) {
	v, err := t.GetSnapshot(ctx, p)
	if err != nil {
		return false, err
	}
	return v.CircuitState != CircuitOpen, nil
}

// RecordCreateSessionOutcome logs a session attempt and advances the
// circuit. A success closes an OPEN or HALF_OPEN circuit; a failure on a
// HALF_OPEN probe reopens it immediately.
func (t *Tracker) RecordCreateSessionOutcome(ctx context.Context, p provider.Provider, intentID uuid.UUID, success bool, latency time.Duration, errorKind string, payloadForHash string) error {
	sanitized, err := json.Marshal(map[string]any{
		"latencyMs": latency.Milliseconds(),
		"success":   success,
		"errorType": errorKind,
	})
	if err != nil {
		sanitized = nil
	}

	eventType := EventCreateSessionSucceeded
	if !success {
		eventType = EventCreateSessionFailed
	}
	if err := t.append(ctx, p, &intentID, eventType, payloadForHash, string(sanitized)); err != nil {
		return err
	}
	return t.recompute(ctx, p, &success)
}

// RecordPaymentOutcomeFromWebhook logs a settled payment outcome reported
// by the provider and recomputes statistics. It never closes the circuit.
func (t *Tracker) RecordPaymentOutcomeFromWebhook(ctx context.Context, p provider.Provider, intentID uuid.UUID, success bool, payloadForHash, sanitizedJSON string) error {
	eventType := EventPaymentSucceeded
	if !success {
		eventType = EventPaymentFailed
	}
	if err := t.append(ctx, p, &intentID, eventType, payloadForHash, sanitizedJSON); err != nil {
		return err
	}
	return t.recompute(ctx, p, nil)
}

// RecordRefundOutcomeFromWebhook logs a confirmed refund.
func (t *Tracker) RecordRefundOutcomeFromWebhook(ctx context.Context, p provider.Provider, intentID uuid.UUID, payloadForHash, sanitizedJSON string) error {
	if err := t.append(ctx, p, &intentID, EventRefundSucceeded, payloadForHash, sanitizedJSON); err != nil {
		return err
	}
	return t.recompute(ctx, p, nil)
}

// EventsForIntent returns the event log entries for one payment intent.
func (t *Tracker) EventsForIntent(ctx context.Context, intentID uuid.UUID) ([]*PaymentEvent, error) {
	return t.repo.ListByIntent(ctx, intentID.String())
}

func (t *Tracker) append(ctx context.Context, p provider.Provider, intentID *uuid.UUID, eventType, payloadForHash, sanitizedJSON string) error {
	event := &PaymentEvent{
		ID:              uuid.New(),
		PaymentIntentID: intentID,
		Provider:        p,
		EventType:       eventType,
		PayloadHash:     crypto.SHA256Hex(payloadForHash),
		SanitizedJSON:   sanitizedJSON,
		CreatedAt:       t.now(),
	}
	if err := t.repo.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// recompute rebuilds the snapshot from the event log. sessionSuccess is
// the outcome of the triggering session attempt, or nil for webhook-driven
// recomputes.
func (t *Tracker) recompute(ctx context.Context, p provider.Provider, sessionSuccess *bool) error {
	lock := t.lockFor(p)
	lock.Lock()
	defer lock.Unlock()

	snap, err := t.loadOrInit(ctx, p)
	if err != nil {
		return err
	}
	now := t.now()

	errorRate, err := t.computeErrorRate(ctx, p, now.Add(-errorWindow))
	if err != nil {
		return err
	}
	p95, err := t.computeP95(ctx, p, now.Add(-successWindow))
	if err != nil {
		return err
	}
	successRate, err := t.computeSuccessRate(ctx, p, now, snap.SuccessRate)
	if err != nil {
		return err
	}

	consecutiveFailures, err := t.lastNAreFailures(ctx, p, consecutiveFailureCount)
	if err != nil {
		return err
	}
	shouldOpen := errorRate > errorRateOpenThreshold || consecutiveFailures

	next := effectiveState(snap.CircuitState, snap.LastFailureAt, now)
	switch {
	case sessionSuccess != nil && *sessionSuccess:
		if next == CircuitHalfOpen || next == CircuitOpen {
			next = CircuitClosed
			snap.LastFailureAt = nil
		}
	case sessionSuccess != nil:
		if next == CircuitHalfOpen || shouldOpen {
			next = CircuitOpen
			failedAt := now
			snap.LastFailureAt = &failedAt
		}
	default:
		// Webhook recompute: may open on statistics, otherwise
		// OPEN waits for the TTL and HALF_OPEN waits for a probe.
		if shouldOpen {
			next = CircuitOpen
			failedAt := now
			snap.LastFailureAt = &failedAt
		} else if next != CircuitOpen && next != CircuitHalfOpen {
			next = CircuitClosed
		}
	}

	if next != snap.CircuitState {
		t.logger.Info("provider circuit transition",
			zap.String("provider", string(p)),
			zap.String("from", string(snap.CircuitState)),
			zap.String("to", string(next)),
			zap.Float64("error_rate", errorRate),
		)
	}

	windowStart := now.Add(-successWindow)
	snap.CircuitState = next
	snap.ErrorRate = errorRate
	snap.P95LatencyMs = p95
	snap.SuccessRate = successRate
	snap.WindowStart = &windowStart
	snap.WindowEnd = &now

	if err := t.repo.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	t.metrics.ProviderCircuitState.WithLabelValues(string(p)).Set(circuitGaugeValue(next))
	return nil
}

func (t *Tracker) computeErrorRate(ctx context.Context, p provider.Provider, from time.Time) (float64, error) {
	events, err := t.repo.RecentByTypes(ctx, p, []string{EventCreateSessionSucceeded, EventCreateSessionFailed}, from)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	var failures int
	for _, e := range events {
		if e.EventType == EventCreateSessionFailed {
			failures++
		}
	}
	return float64(failures) / float64(len(events)), nil
}

// computeP95 takes the nearest-rank p95 over session success latencies in
// the window. Events without a usable latency are skipped.
func (t *Tracker) computeP95(ctx context.Context, p provider.Provider, from time.Time) (int64, error) {
	events, err := t.repo.RecentByTypes(ctx, p, []string{EventCreateSessionSucceeded}, from)
	if err != nil {
		return 0, err
	}
	latencies := make([]int64, 0, len(events))
	for _, e := range events {
		if ms, ok := extractLatency(e.SanitizedJSON); ok {
			latencies = append(latencies, ms)
		}
	}
	if len(latencies) == 0 {
		return 0, nil
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	index := int(math.Ceil(0.95*float64(len(latencies)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(latencies) {
		index = len(latencies) - 1
	}
	return latencies[index], nil
}

// computeSuccessRate uses the short window, falls back to the long window,
// and finally keeps the previous value when there is no settled data.
func (t *Tracker) computeSuccessRate(ctx context.Context, p provider.Provider, now time.Time, previous float64) (float64, error) {
	rate, ok, err := t.paymentSuccessRate(ctx, p, now.Add(-successWindow))
	if err != nil {
		return 0, err
	}
	if ok {
		return rate, nil
	}
	rate, ok, err = t.paymentSuccessRate(ctx, p, now.Add(-successFallbackWindow))
	if err != nil {
		return 0, err
	}
	if ok {
		return rate, nil
	}
	return previous, nil
}

func (t *Tracker) paymentSuccessRate(ctx context.Context, p provider.Provider, from time.Time) (float64, bool, error) {
	succeeded, err := t.repo.CountByTypeSince(ctx, p, EventPaymentSucceeded, from)
	if err != nil {
		return 0, false, err
	}
	failed, err := t.repo.CountByTypeSince(ctx, p, EventPaymentFailed, from)
	if err != nil {
		return 0, false, err
	}
	total := succeeded + failed
	if total == 0 {
		return 0, false, nil
	}
	return float64(succeeded) / float64(total), true, nil
}

func (t *Tracker) lastNAreFailures(ctx context.Context, p provider.Provider, n int) (bool, error) {
	events, err := t.repo.RecentByTypes(ctx, p,
		[]string{EventCreateSessionSucceeded, EventCreateSessionFailed},
		t.now().Add(-consecutiveFailureLookback))
	if err != nil {
		return false, err
	}
	if len(events) < n {
		return false, nil
	}
	for _, e := range events[:n] {
		if e.EventType != EventCreateSessionFailed {
			return false, nil
		}
	}
	return true, nil
}

func (t *Tracker) loadOrInit(ctx context.Context, p provider.Provider) (*Snapshot, error) {
	snap, err := t.repo.FindSnapshot(ctx, p)
	if err == nil {
		return snap, nil
	}
	if err != ErrSnapshotNotFound {
		return nil, err
	}
	snap = &Snapshot{
		ID:           uuid.New(),
		Provider:     p,
		CircuitState: CircuitClosed,
	}
	if err := t.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("init snapshot: %w", err)
	}
	return snap, nil
}

func (t *Tracker) lockFor(p provider.Provider) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[p]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[p] = lock
	}
	return lock
}

// effectiveState reports OPEN circuits past the TTL as HALF_OPEN.
func effectiveState(state CircuitState, lastFailureAt *time.Time, now time.Time) CircuitState {
	if state != CircuitOpen {
		return state
	}
	if lastFailureAt == nil {
		return CircuitOpen
	}
	if now.Sub(*lastFailureAt) > openTTL {
		return CircuitHalfOpen
	}
	return CircuitOpen
}

func extractLatency(sanitizedJSON string) (int64, bool) {
	if sanitizedJSON == "" {
		return 0, false
	}
	var payload struct {
		LatencyMs *int64 `json:"latencyMs"`
	}
	if err := json.Unmarshal([]byte(sanitizedJSON), &payload); err != nil {
		return 0, false
	}
	if payload.LatencyMs == nil || *payload.LatencyMs < 0 {
		return 0, false
	}
	return *payload.LatencyMs, true
}

func circuitGaugeValue(state CircuitState) float64 {
	switch state {
	case CircuitOpen:
		return 2
	case CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
