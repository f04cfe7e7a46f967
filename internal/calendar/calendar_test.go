package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/recurrence"
)

func fixedNow() time.Time {
	return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
}

func nfpSpec() catalog.EntitySpec {
	return catalog.EntitySpec{
		ID: "NFP", Name: "Nonfarm Payrolls", Domain: catalog.DomainEconRelease,
		Rule: recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Friday, Ordinal: 1, Hour: 12, Minute: 30},
		Tier: catalog.TierExtreme, HorizonMonths: 2,
	}
}

type stubFeed struct {
	events []Event
	err    error
	calls  int
}

func (f *stubFeed) UpcomingEvents(ctx context.Context, entityID string, until time.Time) ([]Event, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func TestGenerateRuleOnly(t *testing.T) {
	gen := NewGenerator(nil, fixedNow)
	events, err := gen.Generate(context.Background(), nfpSpec())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "2025-03-07T12:30:00Z", events[0].ScheduledAt.Format(time.RFC3339))
	require.Equal(t, "2025-04-04T12:30:00Z", events[1].ScheduledAt.Format(time.RFC3339))
	for _, ev := range events {
		require.True(t, ev.Synthesized)
		require.Equal(t, catalog.TierExtreme, ev.Tier)
	}
}

func TestGenerateIdempotent(t *testing.T) {
	feed := &stubFeed{events: []Event{{
		EntityID:    "NFP",
		ScheduledAt: time.Date(2025, time.March, 7, 13, 30, 0, 0, time.UTC),
		Tier:        catalog.TierExtreme,
		Occurrence:  202503,
	}}}
	gen := NewGenerator(feed, fixedNow)

	first, err := gen.Generate(context.Background(), nfpSpec())
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), nfpSpec())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFeedSupersedesSynthesized(t *testing.T) {
	moved := time.Date(2025, time.March, 7, 13, 15, 0, 0, time.UTC)
	feed := &stubFeed{events: []Event{{EntityID: "NFP", ScheduledAt: moved, Tier: catalog.TierExtreme, Occurrence: 202503}}}
	gen := NewGenerator(feed, fixedNow)

	events, err := gen.Generate(context.Background(), nfpSpec())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.False(t, events[0].Synthesized)
	require.True(t, events[0].ScheduledAt.Equal(moved))
	require.True(t, events[1].Synthesized, "occurrence without feed data stays synthesized")
}

func TestFeedFailureFallsBackToRules(t *testing.T) {
	feed := &stubFeed{err: errors.New("feed down")}
	gen := NewGenerator(feed, fixedNow)

	events, err := gen.Generate(context.Background(), nfpSpec())
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		require.True(t, ev.Synthesized)
	}
}

func TestGenerateSkipsOffCycleMonths(t *testing.T) {
	spec := catalog.EntitySpec{
		ID: "ES", Domain: catalog.DomainFuturesRoll, Cycle: catalog.CycleQuarterly,
		Rule: recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Friday, Ordinal: 3, Hour: 14, Minute: 30},
		Tier: catalog.TierVeryHigh, HorizonMonths: 12,
	}
	gen := NewGenerator(nil, fixedNow)
	events, err := gen.Generate(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, events, 4) // Mar, Jun, Sep, Dec
	for _, ev := range events {
		m := ev.ScheduledAt.Month()
		require.Contains(t, []time.Month{time.March, time.June, time.September, time.December}, m)
	}
}

func TestTrackerNextEventAndWindow(t *testing.T) {
	gen := NewGenerator(nil, fixedNow)
	tr, err := NewTracker(gen, []catalog.EntitySpec{nfpSpec()}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(context.Background()))

	next, ok := tr.NextEvent("NFP", fixedNow())
	require.True(t, ok)
	require.Equal(t, "2025-03-07T12:30:00Z", next.ScheduledAt.Format(time.RFC3339))

	// After the first occurrence passes, the second is next.
	next, ok = tr.NextEvent("NFP", time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, time.April, next.ScheduledAt.Month())

	window := tr.EventsInWindow(0, 10*24*time.Hour)
	require.Len(t, window, 1)
	require.Equal(t, "NFP", window[0].EntityID)

	window = tr.EventsInWindow(0, 60*24*time.Hour)
	require.Len(t, window, 2)
}

func TestTrackerCurrentEventKeepsJustPassedOccurrence(t *testing.T) {
	gen := NewGenerator(nil, fixedNow)
	tr, err := NewTracker(gen, []catalog.EntitySpec{nfpSpec()}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(context.Background()))

	// Two hours after the March release the March occurrence is still the
	// relevant one for post-event protection.
	at := time.Date(2025, time.March, 7, 14, 30, 0, 0, time.UTC)
	ev, ok := tr.CurrentEvent("NFP", at)
	require.True(t, ok)
	require.Equal(t, 202503, ev.Occurrence)

	// Four days later it has rolled to April.
	ev, ok = tr.CurrentEvent("NFP", at.AddDate(0, 0, 4))
	require.True(t, ok)
	require.Equal(t, 202504, ev.Occurrence)
}

func TestTrackerRejectsInvalidSpec(t *testing.T) {
	gen := NewGenerator(nil, fixedNow)
	bad := nfpSpec()
	bad.Rule.Kind = "lunar_cycle"
	_, err := NewTracker(gen, []catalog.EntitySpec{bad}, fixedNow)
	require.Error(t, err)
}
