package assess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeops/eventguard/internal/calendar"
	"github.com/tradeops/eventguard/internal/catalog"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func econSpec(tier catalog.ImpactTier) catalog.EntitySpec {
	return catalog.EntitySpec{ID: "CPI", Domain: catalog.DomainEconRelease, Tier: tier, HorizonMonths: 2}
}

func rollSpec() catalog.EntitySpec {
	return catalog.EntitySpec{ID: "CL", Domain: catalog.DomainFuturesRoll, Cycle: catalog.CycleMonthly, Tier: catalog.TierHigh, HorizonMonths: 12}
}

func eventIn(d time.Duration, tier catalog.ImpactTier) calendar.Event {
	return calendar.Event{EntityID: "CPI", ScheduledAt: testNow.Add(d), Tier: tier, Synthesized: true}
}

func newAssessor(t *testing.T) *Assessor {
	a, err := New(DefaultConfig())
	require.NoError(t, err)
	return a
}

func TestSevenDaysToCriticalTierEvent(t *testing.T) {
	a := newAssessor(t)
	got := a.Assess(econSpec(catalog.TierExtreme), eventIn(7*24*time.Hour, catalog.TierExtreme), Signals{}, testNow)

	// Time band (+20) plus extreme tier offset (+40) with no supplementary
	// signals must already land in HIGH or above.
	require.GreaterOrEqual(t, got.Score, 60.0)
	require.True(t, got.Level == LevelHigh || got.Level == LevelCritical)
	require.NotEmpty(t, got.Factors)
	require.NotEmpty(t, got.Actions)
}

func TestScoreBoundsAndClamp(t *testing.T) {
	a := newAssessor(t)
	mig := 0.9
	dist := 0.05
	got := a.Assess(rollSpec(), eventIn(time.Hour, catalog.TierHigh), Signals{VolumeMigration: &mig, PriceDistortion: &dist}, testNow)
	require.LessOrEqual(t, got.Score, 100.0)
	require.GreaterOrEqual(t, got.Score, 0.0)
	require.Equal(t, LevelCritical, got.Level)
}

func TestNegativeTimeToEventClampsToImminent(t *testing.T) {
	a := newAssessor(t)
	got := a.Assess(rollSpec(), eventIn(-3*time.Hour, catalog.TierHigh), Signals{}, testNow)
	// Clock skew or an in-progress event scores as the tightest band.
	require.Equal(t, 50.0, got.Score)
}

func TestMissingSignalsOmitBands(t *testing.T) {
	a := newAssessor(t)
	got := a.Assess(rollSpec(), eventIn(30*24*time.Hour, catalog.TierHigh), Signals{}, testNow)
	require.Equal(t, 0.0, got.Score)
	require.Equal(t, LevelNone, got.Level)
	require.Empty(t, got.Factors)
}

func TestMigrationBandThresholds(t *testing.T) {
	a := newAssessor(t)
	far := eventIn(30*24*time.Hour, catalog.TierHigh)

	low := 0.30
	got := a.Assess(rollSpec(), far, Signals{VolumeMigration: &low}, testNow)
	require.Equal(t, 10.0, got.Score)

	high := 0.60
	got = a.Assess(rollSpec(), far, Signals{VolumeMigration: &high}, testNow)
	require.Equal(t, 25.0, got.Score)

	below := 0.10
	got = a.Assess(rollSpec(), far, Signals{VolumeMigration: &below}, testNow)
	require.Equal(t, 0.0, got.Score)
}

func TestLevelForScoreMonotonic(t *testing.T) {
	prev := LevelNone
	for s := 0.0; s <= 100; s++ {
		l := LevelForScore(s)
		require.GreaterOrEqual(t, int(l), int(prev), "score %v", s)
		prev = l
	}
	require.Equal(t, LevelCritical, LevelForScore(80))
	require.Equal(t, LevelHigh, LevelForScore(60))
	require.Equal(t, LevelMedium, LevelForScore(40))
	require.Equal(t, LevelLow, LevelForScore(20))
	require.Equal(t, LevelNone, LevelForScore(19.9))
}

func TestTierOffsetOnlyForReleases(t *testing.T) {
	a := newAssessor(t)
	far := eventIn(30*24*time.Hour, catalog.TierExtreme)

	econ := a.Assess(econSpec(catalog.TierExtreme), far, Signals{}, testNow)
	require.Equal(t, 40.0, econ.Score)

	roll := a.Assess(rollSpec(), far, Signals{}, testNow)
	require.Equal(t, 0.0, roll.Score)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeBands = []TimeBand{{MaxDays: 5, Points: 35}, {MaxDays: 2, Points: 50}}
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.TimeBands = []TimeBand{{MaxDays: 2, Points: 10}, {MaxDays: 5, Points: 30}}
	_, err = New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	delete(cfg.TierPoints, "extreme")
	_, err = New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MigrationHigh = cfg.MigrationLow
	_, err = New(cfg)
	require.Error(t, err)
}
