package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu        sync.Mutex
	notified  []Alert
	escalated []Alert
}

func (c *captureNotifier) Notify(a Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, a)
}

func (c *captureNotifier) NotifyEscalation(a Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalated = append(c.escalated, a)
}

// fakeClock advances manually.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)}
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	clock := newClock()
	m := NewManager(Config{CooldownSec: 900}, clock.now)

	_, ok := m.Raise("roll_approaching", "CL", SevWarning, "CL roll in 5 days")
	require.True(t, ok)
	_, ok = m.Raise("roll_approaching", "CL", SevWarning, "CL roll in 5 days")
	require.False(t, ok, "second raise inside cooldown must be discarded")
	require.Len(t, m.History(0), 1)

	// Different entity or type is a different cooldown key.
	_, ok = m.Raise("roll_approaching", "GC", SevWarning, "GC roll in 5 days")
	require.True(t, ok)
	_, ok = m.Raise("risk_elevated", "CL", SevWarning, "CL risk elevated")
	require.True(t, ok)

	clock.advance(16 * time.Minute)
	_, ok = m.Raise("roll_approaching", "CL", SevWarning, "CL roll in 4 days")
	require.True(t, ok, "cooldown expired")
}

func TestEscalation(t *testing.T) {
	clock := newClock()
	rec := &captureNotifier{}
	m := NewManager(Config{CooldownSec: 60, ImmediateTypes: []string{"protection_activated"}}, clock.now, rec)

	a, ok := m.Raise("protection_activated", "NFP", SevWarning, "pre-event window active")
	require.True(t, ok)
	require.True(t, a.Escalated, "immediate type escalates regardless of severity")

	b, ok := m.Raise("risk_elevated", "CPI", SevCritical, "score 85")
	require.True(t, ok)
	require.True(t, b.Escalated, "critical severity escalates")

	c, ok := m.Raise("risk_elevated", "GC", SevWarning, "score 45")
	require.True(t, ok)
	require.False(t, c.Escalated)

	require.Len(t, rec.notified, 3)
	require.Len(t, rec.escalated, 2)
}

func TestAcknowledgeResolveKeepRecord(t *testing.T) {
	clock := newClock()
	m := NewManager(Config{CooldownSec: 60}, clock.now)

	a, _ := m.Raise("roll_approaching", "ES", SevHigh, "ES roll next week")
	require.NoError(t, m.Acknowledge(a.ID))
	require.NoError(t, m.Resolve(a.ID))

	hist := m.History(0)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Acknowledged)
	require.True(t, hist[0].Resolved)
	require.Empty(t, m.Open())

	require.Error(t, m.Acknowledge("no-such-id"))
}

func TestPruneRetentionAndCap(t *testing.T) {
	clock := newClock()
	m := NewManager(Config{CooldownSec: 1, RetentionHours: 24, MaxHistory: 10, KeepFraction: 0.5}, clock.now)

	for i := 0; i < 8; i++ {
		m.Raise("risk_elevated", "CL", SevInfo, "old")
		clock.advance(2 * time.Second)
	}
	clock.advance(25 * time.Hour)
	m.Prune()
	require.Empty(t, m.History(0), "aged-out alerts pruned")

	for i := 0; i < 30; i++ {
		m.Raise("risk_elevated", "GC", SevInfo, "flood")
		clock.advance(2 * time.Second)
	}
	hist := m.History(0)
	require.LessOrEqual(t, len(hist), 10)
}
