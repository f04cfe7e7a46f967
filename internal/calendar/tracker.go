package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/observ"
)

// Tracker owns the authoritative in-memory calendar for all tracked
// entities. Callers only observe state through accessors; mutation happens
// exclusively via Refresh.
type Tracker struct {
	mu          sync.RWMutex
	gen         *Generator
	specs       map[string]catalog.EntitySpec
	events      map[string][]Event // hot map: entities with remaining events
	lastRefresh time.Time
	now         func() time.Time
}

// NewTracker validates every spec up front; a bad table entry is a
// programming error and fails construction.
func NewTracker(gen *Generator, specs []catalog.EntitySpec, now func() time.Time) (*Tracker, error) {
	if now == nil {
		now = time.Now
	}
	byID := make(map[string]catalog.EntitySpec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate entity spec %s", spec.ID)
		}
		byID[spec.ID] = spec
	}
	return &Tracker{
		gen:    gen,
		specs:  byID,
		events: make(map[string][]Event),
		now:    now,
	}, nil
}

// Refresh regenerates every entity's schedule. A single entity failing does
// not abort the others; the previous schedule for that entity is kept.
func (t *Tracker) Refresh(ctx context.Context) error {
	fresh := make(map[string][]Event, len(t.specs))
	var firstErr error
	for id, spec := range t.specs {
		events, err := t.gen.Generate(ctx, spec)
		if err != nil {
			observ.Error("calendar_refresh_entity_failed", map[string]any{"entity": id, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(events) > 0 {
			fresh[id] = events
		}
	}

	t.mu.Lock()
	for id, events := range fresh {
		t.events[id] = events
	}
	// Drop entities whose horizon holds nothing further from hot tracking.
	for id := range t.events {
		if _, ok := fresh[id]; !ok {
			delete(t.events, id)
		}
	}
	t.lastRefresh = t.now().UTC()
	t.mu.Unlock()

	observ.SetGauge("calendar_tracked_entities", float64(len(fresh)), nil)
	return firstErr
}

// NextEvent returns the first event for the entity strictly after the given
// time.
func (t *Tracker) NextEvent(entityID string, after time.Time) (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ev := range t.events[entityID] {
		if ev.ScheduledAt.After(after) {
			return ev, true
		}
	}
	return Event{}, false
}

// CurrentEvent returns the occurrence relevant at the given instant: the
// next upcoming event, or the most recently passed one while it is still
// within retention (so post-event windows keep their occurrence in view).
func (t *Tracker) CurrentEvent(entityID string, at time.Time) (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := t.events[entityID]
	for i, ev := range events {
		if ev.ScheduledAt.After(at) {
			if i > 0 && at.Sub(events[i-1].ScheduledAt) < keepBehind {
				return events[i-1], true
			}
			return ev, true
		}
	}
	if n := len(events); n > 0 && at.Sub(events[n-1].ScheduledAt) < keepBehind {
		return events[n-1], true
	}
	return Event{}, false
}

// EventsInWindow returns all events scheduled in [now+start, now+end),
// sorted by time.
func (t *Tracker) EventsInWindow(start, end time.Duration) []Event {
	now := t.now().UTC()
	lo, hi := now.Add(start), now.Add(end)
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Event
	for _, events := range t.events {
		for _, ev := range events {
			if !ev.ScheduledAt.Before(lo) && ev.ScheduledAt.Before(hi) {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// Schedule returns a copy of the entity's sorted upcoming events.
func (t *Tracker) Schedule(entityID string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := t.events[entityID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// TrackedIDs lists entities currently holding future events, sorted for
// stable iteration.
func (t *Tracker) TrackedIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.events))
	for id := range t.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Spec looks up the static specification for an entity.
func (t *Tracker) Spec(entityID string) (catalog.EntitySpec, bool) {
	spec, ok := t.specs[entityID]
	return spec, ok
}

// LastRefresh reports when the calendar was last rebuilt.
func (t *Tracker) LastRefresh() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRefresh
}
