// Package calendar materializes and tracks the schedule of upcoming events
// for every tracked entity. Feed-sourced values supersede rule-synthesized
// ones; when the feed is unavailable the rule-based schedule stands alone,
// so a refresh never fails outright on missing data.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/observ"
	"github.com/tradeops/eventguard/internal/recurrence"
)

// Event is one concrete occurrence for a tracked entity.
type Event struct {
	EntityID    string             `json:"entity_id"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	Tier        catalog.ImpactTier `json:"impact_tier"`
	Synthesized bool               `json:"synthesized"` // true when rule-generated, false when feed-sourced
	Occurrence  int                `json:"occurrence"`  // YYYY*100+MM of the occurrence month
}

// OccurrenceIndex keys one monthly occurrence.
func OccurrenceIndex(year int, month time.Month) int {
	return year*100 + int(month)
}

// Feed supplies live calendar data. Implementations are expected to fail;
// callers fall back to synthesized events.
type Feed interface {
	UpcomingEvents(ctx context.Context, entityID string, until time.Time) ([]Event, error)
}

// keepBehind retains just-passed occurrences so post-event protection
// windows still see their event.
const keepBehind = 72 * time.Hour

// Generator builds an entity's schedule from its recurrence rule with a
// live-feed overlay.
type Generator struct {
	feed Feed // nil means rule-only generation
	now  func() time.Time
}

func NewGenerator(feed Feed, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{feed: feed, now: now}
}

// Generate materializes the schedule for one entity over its lookahead
// horizon. Re-running with unchanged feed data yields an identical schedule.
func (g *Generator) Generate(ctx context.Context, spec catalog.EntitySpec) ([]Event, error) {
	now := g.now().UTC()
	cutoff := now.Add(-keepBehind)
	horizonEnd := now.AddDate(0, spec.HorizonMonths, 0)

	byOccurrence := make(map[int]Event)
	year, month := now.Year(), now.Month()
	for i := 0; i < spec.HorizonMonths; i++ {
		m := time.Month(int(month)+i-1)%12 + 1
		y := year + (int(month)+i-1)/12
		if !spec.MonthInCycle(m) {
			continue
		}
		at, err := recurrence.Resolve(spec.Rule, y, m)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", spec.ID, err)
		}
		if at.Before(cutoff) {
			continue
		}
		idx := OccurrenceIndex(y, m)
		byOccurrence[idx] = Event{
			EntityID:    spec.ID,
			ScheduledAt: at,
			Tier:        spec.Tier,
			Synthesized: true,
			Occurrence:  idx,
		}
	}

	g.overlayFeed(ctx, spec, byOccurrence, cutoff, horizonEnd)

	events := make([]Event, 0, len(byOccurrence))
	for _, ev := range byOccurrence {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ScheduledAt.Before(events[j].ScheduledAt) })
	return events, nil
}

// overlayFeed replaces synthesized occurrences with feed values and appends
// feed occurrences the rule did not produce. Feed failure keeps the
// synthesized schedule.
func (g *Generator) overlayFeed(ctx context.Context, spec catalog.EntitySpec, byOccurrence map[int]Event, cutoff, horizonEnd time.Time) {
	if g.feed == nil {
		return
	}
	feedEvents, err := g.feed.UpcomingEvents(ctx, spec.ID, horizonEnd)
	if err != nil {
		observ.Warn("calendar_feed_unavailable", map[string]any{"entity": spec.ID, "error": err.Error()})
		observ.IncCounter("calendar_feed_failures_total", map[string]string{"entity": spec.ID})
		return
	}
	for _, fev := range feedEvents {
		if fev.ScheduledAt.Before(cutoff) || fev.ScheduledAt.After(horizonEnd) {
			continue
		}
		idx := fev.Occurrence
		if idx == 0 {
			idx = OccurrenceIndex(fev.ScheduledAt.Year(), fev.ScheduledAt.Month())
		}
		tier := fev.Tier
		if syn, ok := byOccurrence[idx]; ok && fev.Tier == 0 {
			tier = syn.Tier
		}
		byOccurrence[idx] = Event{
			EntityID:    spec.ID,
			ScheduledAt: fev.ScheduledAt.UTC(),
			Tier:        tier,
			Synthesized: false,
			Occurrence:  idx,
		}
	}
}
