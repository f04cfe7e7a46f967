// Package protect drives the per-entity protection-window state machine.
// Entering a time band around a scheduled event activates a window carrying
// concrete trading restrictions; leaving it releases them. The risk-manager
// collaborator hears about each transition exactly once.
package protect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradeops/eventguard/internal/calendar"
	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/observ"
)

// Phase is the protection state for one occurrence.
type Phase int

const (
	PhaseNone Phase = iota
	PhasePre
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre_event"
	case PhasePost:
		return "post_event"
	default:
		return "none"
	}
}

// Rules are the concrete restrictions a window imposes.
type Rules struct {
	BuyingPowerFraction  float64  `yaml:"buying_power_fraction" json:"buying_power_fraction"` // cap as fraction of the caller's default
	MaxCorrelated        int      `yaml:"max_correlated" json:"max_correlated"`
	RestrictedStrategies []string `yaml:"restricted_strategies" json:"restricted_strategies"`
	RequiredActions      []string `yaml:"required_actions" json:"required_actions"`
}

// Window is one active protection window.
type Window struct {
	EntityID    string             `json:"entity_id"`
	Phase       Phase              `json:"phase"`
	Tier        catalog.ImpactTier `json:"impact_tier"`
	Rules       Rules              `json:"rules"`
	Occurrence  int                `json:"occurrence"`
	ActivatedAt time.Time          `json:"activated_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Forced      bool               `json:"forced,omitempty"`
}

// RiskManager is the collaborator that enforces (or at least records)
// protection measures. Calls are fire-and-acknowledge; the controller only
// guarantees each transition issues exactly one call.
type RiskManager interface {
	ApplyProtectionMeasures(ctx context.Context, w Window) error
	ReleaseProtectionMeasures(ctx context.Context, entityID string) error
}

// Transition reports one state change from an Evaluate pass.
type Transition struct {
	EntityID string
	From     Phase
	To       Phase
	Window   *Window // nil when To == PhaseNone
}

// Config sizes the windows and supplies the per-tier rules table.
type Config struct {
	PreHours    map[string]float64 `yaml:"pre_hours"`  // tier name -> hours before the event
	PostHours   map[string]float64 `yaml:"post_hours"` // tier name -> hours after
	RulesByTier map[string]Rules   `yaml:"rules_by_tier"`
}

// DefaultConfig: window lengths grow monotonically with impact tier.
func DefaultConfig() Config {
	return Config{
		PreHours: map[string]float64{
			"low": 2, "medium": 6, "high": 12, "very_high": 48, "extreme": 168,
		},
		PostHours: map[string]float64{
			"low": 1, "medium": 2, "high": 4, "very_high": 8, "extreme": 24,
		},
		RulesByTier: map[string]Rules{
			"low": {
				BuyingPowerFraction: 1.0, MaxCorrelated: 5,
			},
			"medium": {
				BuyingPowerFraction: 0.8, MaxCorrelated: 4,
				RequiredActions: []string{"review_open_positions"},
			},
			"high": {
				BuyingPowerFraction: 0.6, MaxCorrelated: 3,
				RestrictedStrategies: []string{"short_straddle", "short_strangle"},
				RequiredActions:      []string{"review_open_positions"},
			},
			"very_high": {
				BuyingPowerFraction: 0.4, MaxCorrelated: 2,
				RestrictedStrategies: []string{"short_straddle", "short_strangle", "naked_short"},
				RequiredActions:      []string{"review_open_positions", "tighten_stops"},
			},
			"extreme": {
				BuyingPowerFraction: 0.25, MaxCorrelated: 1,
				RestrictedStrategies: []string{"short_straddle", "short_strangle", "naked_short", "ratio_spread"},
				RequiredActions:      []string{"review_open_positions", "tighten_stops", "no_new_positions"},
			},
		},
	}
}

// Validate fails fast: every tier needs hours and rules, and hours must be
// monotonically non-decreasing in tier severity.
func (c Config) Validate() error {
	var prevPre, prevPost float64
	for _, tier := range catalog.Tiers() {
		name := tier.String()
		pre, ok := c.PreHours[name]
		if !ok {
			return fmt.Errorf("protect: missing pre_hours for tier %q", name)
		}
		post, ok := c.PostHours[name]
		if !ok {
			return fmt.Errorf("protect: missing post_hours for tier %q", name)
		}
		if _, ok := c.RulesByTier[name]; !ok {
			return fmt.Errorf("protect: missing rules for tier %q", name)
		}
		if pre < prevPre || post < prevPost {
			return fmt.Errorf("protect: window hours not monotonic at tier %q", name)
		}
		prevPre, prevPost = pre, post
	}
	return nil
}

// Controller holds the active windows. In-memory only: a restart recomputes
// phase from the clock against the schedule.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	rm     RiskManager
	active map[string]*Window // entityID -> window; one per (entity, phase) by construction
}

func NewController(cfg Config, rm RiskManager) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, rm: rm, active: make(map[string]*Window)}, nil
}

// Evaluate reconciles one entity's window against the clock. Re-entering an
// already-active phase for the same occurrence is a no-op; each genuine
// transition issues exactly one apply and/or release call.
func (c *Controller) Evaluate(ctx context.Context, spec catalog.EntitySpec, ev calendar.Event, now time.Time) []Transition {
	desired := c.desiredPhase(ev, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.active[spec.ID]
	curPhase := PhaseNone
	if cur != nil {
		curPhase = cur.Phase
	}

	// Forced windows expire on their own clock and are otherwise left alone.
	if cur != nil && cur.Forced {
		if now.Before(cur.ExpiresAt) {
			return nil
		}
		return c.transition(ctx, spec.ID, cur, nil, curPhase, PhaseNone)
	}

	if cur != nil && curPhase == desired && cur.Occurrence == ev.Occurrence {
		return nil
	}

	var next *Window
	if desired != PhaseNone {
		next = c.buildWindow(spec.ID, desired, ev, now)
	}
	if cur == nil && next == nil {
		return nil
	}
	return c.transition(ctx, spec.ID, cur, next, curPhase, desired)
}

func (c *Controller) desiredPhase(ev calendar.Event, now time.Time) Phase {
	name := ev.Tier.String()
	preStart := ev.ScheduledAt.Add(-time.Duration(c.cfg.PreHours[name] * float64(time.Hour)))
	postEnd := ev.ScheduledAt.Add(time.Duration(c.cfg.PostHours[name] * float64(time.Hour)))
	switch {
	case now.Before(preStart):
		return PhaseNone
	case now.Before(ev.ScheduledAt):
		return PhasePre
	case now.Before(postEnd):
		return PhasePost
	default:
		return PhaseNone
	}
}

func (c *Controller) buildWindow(entityID string, phase Phase, ev calendar.Event, now time.Time) *Window {
	name := ev.Tier.String()
	var expires time.Time
	if phase == PhasePre {
		expires = ev.ScheduledAt
	} else {
		expires = ev.ScheduledAt.Add(time.Duration(c.cfg.PostHours[name] * float64(time.Hour)))
	}
	return &Window{
		EntityID:    entityID,
		Phase:       phase,
		Tier:        ev.Tier,
		Rules:       c.cfg.RulesByTier[name],
		Occurrence:  ev.Occurrence,
		ActivatedAt: now.UTC(),
		ExpiresAt:   expires,
	}
}

// transition swaps cur for next under the lock, notifying the risk manager
// once per change. A pre-to-post handover is one release plus one apply.
func (c *Controller) transition(ctx context.Context, entityID string, cur, next *Window, from, to Phase) []Transition {
	var out []Transition
	if cur != nil {
		delete(c.active, entityID)
		if c.rm != nil {
			if err := c.rm.ReleaseProtectionMeasures(ctx, entityID); err != nil {
				observ.Error("protection_release_failed", map[string]any{"entity": entityID, "error": err.Error()})
			}
		}
		observ.IncCounter("protection_deactivations_total", map[string]string{"entity": entityID, "phase": cur.Phase.String()})
		out = append(out, Transition{EntityID: entityID, From: cur.Phase, To: PhaseNone})
	}
	if next != nil {
		c.active[entityID] = next
		if c.rm != nil {
			if err := c.rm.ApplyProtectionMeasures(ctx, *next); err != nil {
				observ.Error("protection_apply_failed", map[string]any{"entity": entityID, "error": err.Error()})
			}
		}
		observ.IncCounter("protection_activations_total", map[string]string{"entity": entityID, "phase": next.Phase.String()})
		w := *next
		out = append(out, Transition{EntityID: entityID, From: from, To: next.Phase, Window: &w})
	}
	return out
}

// ForceActivate opens an operator-requested window outside the automatic
// schedule. It supersedes any active window for the entity.
func (c *Controller) ForceActivate(ctx context.Context, entityID string, tier catalog.ImpactTier, duration time.Duration, now time.Time) []Transition {
	name := tier.String()
	next := &Window{
		EntityID:    entityID,
		Phase:       PhasePre,
		Tier:        tier,
		Rules:       c.cfg.RulesByTier[name],
		ActivatedAt: now.UTC(),
		ExpiresAt:   now.Add(duration),
		Forced:      true,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.active[entityID]
	from := PhaseNone
	if cur != nil {
		from = cur.Phase
	}
	return c.transition(ctx, entityID, cur, next, from, PhasePre)
}

// Active returns copies of the live windows, sorted by entity.
func (c *Controller) Active() []Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Window, 0, len(c.active))
	for _, w := range c.active {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// ActiveFor returns the entity's window if one is live.
func (c *Controller) ActiveFor(entityID string) (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.active[entityID]
	if !ok {
		return Window{}, false
	}
	return *w, true
}
