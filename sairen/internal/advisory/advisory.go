// Package advisory composes the final Advisory from an orchestrator verdict,
// applying the critical-severity cooldown and choosing between the LLM
// backend and the campaign-aware template for recommendation text.
package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/llm"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

// Config controls the critical-severity cooldown.
type Config struct {
	CriticalCooldown time.Duration
}

// DefaultConfig returns the spec's default 30 second critical cooldown.
func DefaultConfig() Config {
	return Config{CriticalCooldown: 30 * time.Second}
}

// Composer holds the cooldown state; it is not shared outside the advisory
// phase and requires no external synchronization beyond its own mutex.
type Composer struct {
	cfg     Config
	backend llm.Backend

	mu                 sync.Mutex
	lastCriticalEmitted time.Time
	haveCritical         bool
}

// New constructs a Composer. backend may be llm.TemplateBackend{} when no
// inference backend is configured.
func New(cfg Config, backend llm.Backend) *Composer {
	if backend == nil {
		backend = llm.TemplateBackend{}
	}
	return &Composer{cfg: cfg, backend: backend}
}

// Compose assembles an Advisory from a confirmed ticket and its voting
// result, or returns ok=false if suppressed by the critical cooldown.
func (c *Composer) Compose(ctx context.Context, vr types.VotingResult, ticket types.Ticket, metrics types.Metrics, report *types.MLReport, now time.Time) (types.Advisory, bool) {
	c.mu.Lock()
	if vr.RiskLevel == types.RiskCritical && c.haveCritical && now.Sub(c.lastCriticalEmitted) < c.cfg.CriticalCooldown {
		c.mu.Unlock()
		return types.Advisory{}, false
	}
	c.mu.Unlock()

	dominant := dominantVote(vr.Votes)
	prompt := llm.BuildPrompt(ticket.Category, ticket.Campaign, dominant)

	result, err := c.backend.Generate(ctx, prompt, 256, 0.2)
	var recommendation string
	var confidence float64
	if err != nil {
		tmpl, _ := llm.TemplateBackend{}.Generate(ctx, prompt, 256, 0.2)
		recommendation = tmpl.Text
		confidence = tmpl.Confidence
	} else {
		recommendation = result.Text
		confidence = result.Confidence
	}

	adv := types.Advisory{
		ID:             uuid.NewString(),
		RiskLevel:      vr.RiskLevel,
		Votes:          vr.Votes,
		Diagnosis:      dominant.Rationale,
		Recommendation: recommendation,
		Confidence:     confidence,
		CausalLeads:    ticket.CausalLeads,
		RegimeLabel:    fmt.Sprintf("[regime %d:%s]", vr.RegimeID, vr.RegimeLabel),
		Timestamp:      now,
		Campaign:       ticket.Campaign,
	}

	if vr.RiskLevel == types.RiskCritical {
		c.mu.Lock()
		c.lastCriticalEmitted = now
		c.haveCritical = true
		c.mu.Unlock()
	}

	return adv, true
}

func dominantVote(votes []types.SpecialistVote) types.SpecialistVote {
	var best types.SpecialistVote
	bestScore := -1.0
	for _, v := range votes {
		score := v.Weight * v.Severity.Ordinal()
		if score > bestScore {
			bestScore = score
			best = v
		}
	}
	return best
}

// FormatCausalLeadsBlock renders up to 3 causal leads as a short advisory
// text block, e.g. "wob precedes MSE by 4s (r=+0.52)".
func FormatCausalLeadsBlock(leads []types.CausalLead) string {
	if len(leads) == 0 {
		return ""
	}
	out := ""
	for i, l := range leads {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s precedes MSE by %ds (r=%+.2f)", l.ParameterID, l.LagSeconds, l.R)
	}
	return out
}
