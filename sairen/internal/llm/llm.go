// Package llm defines the advisory-recommendation backend contract and
// three implementations: a deterministic campaign-aware template, a no-op,
// and a circuit-breaker-wrapped call into an external inference backend.
// The core treats the backend as opaque and always has a template fallback.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// Result is a generated recommendation plus the confidence the backend
// declares for it.
type Result struct {
	Text       string
	Confidence float64
}

// Backend is the advisory-recommendation contract. Generate must return
// within the caller's context deadline (800ms budget per the interface
// spec) or the composer falls back to a template.
type Backend interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (Result, error)
}

// NoOpBackend always fails immediately, forcing the template path; useful
// when no inference backend is configured.
type NoOpBackend struct{}

func (NoOpBackend) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (Result, error) {
	return Result{}, fmt.Errorf("llm: no backend configured")
}

// TemplateBackend produces the campaign-aware fallback recommendation; it
// never errors and always reports confidence 0.70 per the advisory design.
type TemplateBackend struct{}

func (TemplateBackend) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (Result, error) {
	return Result{Text: prompt, Confidence: 0.70}, nil
}

// BreakerBackend wraps an inner Backend with a gobreaker circuit breaker and
// a wall-clock timeout; on trip or timeout it reports an error so the
// caller falls back to TemplateBackend.
type BreakerBackend struct {
	inner   Backend
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewBreakerBackend wraps inner with a circuit breaker that opens after 3
// consecutive failures and a per-call timeout (default 800ms per spec).
func NewBreakerBackend(inner Backend, timeout time.Duration) *BreakerBackend {
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	settings := gobreaker.Settings{
		Name:        "llm-backend",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerBackend{inner: inner, cb: gobreaker.NewCircuitBreaker(settings), timeout: timeout}
}

func (b *BreakerBackend) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, prompt, maxTokens, temperature)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// State reports the current circuit breaker state for health probes.
func (b *BreakerBackend) State() gobreaker.State { return b.cb.State() }

// BuildPrompt composes a deterministic template recommendation text for a
// ticket's category and campaign; used both as the TemplateBackend input
// and as the LLM prompt seed.
func BuildPrompt(category types.Category, campaign types.Campaign, dominant types.SpecialistVote) string {
	switch category {
	case types.CategoryWellControl:
		return fmt.Sprintf("Flow imbalance detected (campaign=%s). %s. Recommend: shut in well, monitor pit gain, notify company man immediately.", campaign, dominant.Rationale)
	case types.CategoryHydraulic:
		return fmt.Sprintf("Hydraulic anomaly detected (campaign=%s). %s. Recommend: verify ECD against fracture gradient, consider mud weight adjustment.", campaign, dominant.Rationale)
	case types.CategoryFormation:
		return fmt.Sprintf("Formation transition detected (campaign=%s). %s. Recommend: adjust parameters for new lithology, monitor d-exponent trend.", campaign, dominant.Rationale)
	default:
		return fmt.Sprintf("Mechanical efficiency anomaly detected (campaign=%s). %s. Recommend: review bit condition, consider parameter optimization.", campaign, dominant.Rationale)
	}
}
