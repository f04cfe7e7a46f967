// Package assess computes composite, bounded risk scores for tracked
// entities as they approach a scheduled event. Scoring is additive across
// independent bands; a missing signal contributes zero rather than failing
// the assessment.
package assess

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tradeops/eventguard/internal/calendar"
	"github.com/tradeops/eventguard/internal/catalog"
)

// Level classifies a score through fixed thresholds.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// LevelForScore is the fixed score-to-level mapping. Pure and monotonic.
func LevelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelNone
	}
}

// Signals carries the optional supplementary inputs. Nil means the signal
// could not be computed this tick and its band is skipped.
type Signals struct {
	VolumeMigration *float64 // new/(new+old) volume ratio, futures rolls
	PriceDistortion *float64 // relative price gap between current and next contract
}

// Assessment is a point-in-time snapshot. Never persisted; rebuilt every
// tick from current inputs.
type Assessment struct {
	EntityID string         `json:"entity_id"`
	Event    calendar.Event `json:"event"`
	Score    float64        `json:"score"` // 0..100
	Level    Level          `json:"level"`
	Factors  []string       `json:"factors"`
	Actions  []string       `json:"recommended_actions"`
	At       time.Time      `json:"assessed_at"`
}

// TimeBand maps days-to-event to score points. Bands are evaluated in
// order; the first band whose MaxDays is not exceeded wins.
type TimeBand struct {
	MaxDays float64 `yaml:"max_days"`
	Points  float64 `yaml:"points"`
}

// Config holds the tunable thresholds. Values are configuration, not law;
// validation only enforces shape and monotonicity.
type Config struct {
	TimeBands []TimeBand `yaml:"time_bands"`

	MigrationLow        float64 `yaml:"migration_low"`
	MigrationHigh       float64 `yaml:"migration_high"`
	MigrationLowPoints  float64 `yaml:"migration_low_points"`
	MigrationHighPoints float64 `yaml:"migration_high_points"`

	DistortionThreshold     float64 `yaml:"distortion_threshold"`
	DistortionExtreme       float64 `yaml:"distortion_extreme"`
	DistortionPoints        float64 `yaml:"distortion_points"`
	DistortionExtremePoints float64 `yaml:"distortion_extreme_points"`

	TierPoints map[string]float64 `yaml:"tier_points"` // tier name -> offset, econ releases
}

// DefaultConfig mirrors the hand-tuned operating thresholds.
func DefaultConfig() Config {
	return Config{
		TimeBands: []TimeBand{
			{MaxDays: 2, Points: 50},
			{MaxDays: 5, Points: 35},
			{MaxDays: 10, Points: 20},
			{MaxDays: 15, Points: 10},
		},
		MigrationLow:            0.25,
		MigrationHigh:           0.50,
		MigrationLowPoints:      10,
		MigrationHighPoints:     25,
		DistortionThreshold:     0.005,
		DistortionExtreme:       0.02,
		DistortionPoints:        10,
		DistortionExtremePoints: 20,
		TierPoints: map[string]float64{
			"low":       0,
			"medium":    10,
			"high":      15,
			"very_high": 25,
			"extreme":   40,
		},
	}
}

// Validate fails fast on shapes that would make scoring incoherent:
// time bands must award strictly less as distance grows, and every impact
// tier needs an entry.
func (c Config) Validate() error {
	if len(c.TimeBands) == 0 {
		return fmt.Errorf("assess: no time bands configured")
	}
	for i := 1; i < len(c.TimeBands); i++ {
		prev, cur := c.TimeBands[i-1], c.TimeBands[i]
		if cur.MaxDays <= prev.MaxDays {
			return fmt.Errorf("assess: time bands not increasing in days (%v then %v)", prev.MaxDays, cur.MaxDays)
		}
		if cur.Points >= prev.Points {
			return fmt.Errorf("assess: time band points not decreasing (%v then %v)", prev.Points, cur.Points)
		}
	}
	if c.MigrationHigh <= c.MigrationLow {
		return fmt.Errorf("assess: migration_high %v <= migration_low %v", c.MigrationHigh, c.MigrationLow)
	}
	if c.DistortionExtreme <= c.DistortionThreshold {
		return fmt.Errorf("assess: distortion_extreme %v <= distortion_threshold %v", c.DistortionExtreme, c.DistortionThreshold)
	}
	for _, tier := range catalog.Tiers() {
		if _, ok := c.TierPoints[tier.String()]; !ok {
			return fmt.Errorf("assess: missing tier_points entry for %q", tier)
		}
	}
	return nil
}

// Assessor scores entities. Safe for concurrent use; it holds no mutable
// state.
type Assessor struct {
	cfg Config
}

func New(cfg Config) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{cfg: cfg}, nil
}

// Assess builds the snapshot for one entity and its relevant event.
// Clock skew producing a negative time-to-event is clamped to zero and
// treated as "event imminent or in progress".
func (a *Assessor) Assess(spec catalog.EntitySpec, ev calendar.Event, sig Signals, now time.Time) Assessment {
	days := ev.ScheduledAt.Sub(now).Hours() / 24
	if days < 0 {
		days = 0
	}

	score := 0.0
	var factors []string
	actionSet := map[string]struct{}{}

	if pts := a.timePoints(days); pts > 0 {
		score += pts
		factors = append(factors, fmt.Sprintf("%.1f days to %s (+%.0f)", days, spec.ID, pts))
		a.addActions(actionSet, "time", pts)
	}

	if sig.VolumeMigration != nil {
		switch ratio := *sig.VolumeMigration; {
		case ratio >= a.cfg.MigrationHigh:
			score += a.cfg.MigrationHighPoints
			factors = append(factors, fmt.Sprintf("volume migration %.0f%% (+%.0f)", ratio*100, a.cfg.MigrationHighPoints))
			a.addActions(actionSet, "migration", a.cfg.MigrationHighPoints)
		case ratio >= a.cfg.MigrationLow:
			score += a.cfg.MigrationLowPoints
			factors = append(factors, fmt.Sprintf("volume migration %.0f%% (+%.0f)", ratio*100, a.cfg.MigrationLowPoints))
			a.addActions(actionSet, "migration", a.cfg.MigrationLowPoints)
		}
	}

	if sig.PriceDistortion != nil {
		switch gap := math.Abs(*sig.PriceDistortion); {
		case gap >= a.cfg.DistortionExtreme:
			score += a.cfg.DistortionExtremePoints
			factors = append(factors, fmt.Sprintf("price distortion %.2f%% (+%.0f)", gap*100, a.cfg.DistortionExtremePoints))
			a.addActions(actionSet, "distortion", a.cfg.DistortionExtremePoints)
		case gap >= a.cfg.DistortionThreshold:
			score += a.cfg.DistortionPoints
			factors = append(factors, fmt.Sprintf("price distortion %.2f%% (+%.0f)", gap*100, a.cfg.DistortionPoints))
			a.addActions(actionSet, "distortion", a.cfg.DistortionPoints)
		}
	}

	if spec.Domain == catalog.DomainEconRelease {
		if pts := a.cfg.TierPoints[ev.Tier.String()]; pts > 0 {
			score += pts
			factors = append(factors, fmt.Sprintf("%s impact release (+%.0f)", ev.Tier, pts))
			a.addActions(actionSet, "tier", pts)
		}
	}

	if score > 100 {
		score = 100
	}

	actions := make([]string, 0, len(actionSet))
	for act := range actionSet {
		actions = append(actions, act)
	}
	sort.Strings(actions)

	return Assessment{
		EntityID: spec.ID,
		Event:    ev,
		Score:    score,
		Level:    LevelForScore(score),
		Factors:  factors,
		Actions:  actions,
		At:       now.UTC(),
	}
}

func (a *Assessor) timePoints(days float64) float64 {
	for _, band := range a.cfg.TimeBands {
		if days <= band.MaxDays {
			return band.Points
		}
	}
	return 0
}

// recommendedActions is the static band+magnitude lookup. Keyed tables
// rather than ad hoc strings so every band maps to a stable action set.
var recommendedActions = map[string]map[bool][]string{
	"time": {
		true:  {"avoid_new_positions", "review_open_positions"},
		false: {"monitor_schedule"},
	},
	"migration": {
		true:  {"roll_positions_forward", "avoid_new_positions"},
		false: {"prepare_roll"},
	},
	"distortion": {
		true:  {"reduce_exposure", "widen_stops"},
		false: {"monitor_spread"},
	},
	"tier": {
		true:  {"reduce_exposure", "avoid_new_positions"},
		false: {"monitor_release"},
	},
}

// addActions picks the severe action set when the band contributed 20+
// points, the mild one otherwise.
func (a *Assessor) addActions(set map[string]struct{}, band string, pts float64) {
	for _, act := range recommendedActions[band][pts >= 20] {
		set[act] = struct{}{}
	}
}
