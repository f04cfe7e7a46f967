// Package alerts turns risk and protection transitions into deduplicated,
// cooldown-gated, severity-escalating notifications with a bounded audit
// history.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeops/eventguard/internal/observ"
)

// Severity orders alert importance.
type Severity int

const (
	SevInfo Severity = iota
	SevWarning
	SevHigh
	SevCritical
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "warning"
	case SevHigh:
		return "high"
	case SevCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is one notification record. Acknowledge/resolve mutate flags but
// never delete the record.
type Alert struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	Type         string    `json:"type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
	Escalated    bool      `json:"escalated"`
	Resolved     bool      `json:"resolved"`
}

// Notifier receives accepted alerts. NotifyEscalation is the second,
// higher-visibility channel for escalated alerts.
type Notifier interface {
	Notify(a Alert)
	NotifyEscalation(a Alert)
}

// Config tunes suppression and retention.
type Config struct {
	CooldownSec    int      `yaml:"cooldown_sec"`
	RetentionHours int      `yaml:"retention_hours"`
	MaxHistory     int      `yaml:"max_history"`
	KeepFraction   float64  `yaml:"keep_fraction"`   // kept share when the cap trips
	ImmediateTypes []string `yaml:"immediate_types"` // always escalated
}

func DefaultConfig() Config {
	return Config{
		CooldownSec:    900,
		RetentionHours: 72,
		MaxHistory:     500,
		KeepFraction:   0.5,
		ImmediateTypes: []string{"protection_activated", "risk_critical"},
	}
}

// Manager owns the alert history and cooldown state.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	history   []Alert
	lastFired map[string]time.Time // cooldown key -> last accepted
	immediate map[string]struct{}
	notifiers []Notifier
	now       func() time.Time
}

func NewManager(cfg Config, now func() time.Time, notifiers ...Notifier) *Manager {
	if now == nil {
		now = time.Now
	}
	if cfg.CooldownSec <= 0 {
		cfg.CooldownSec = DefaultConfig().CooldownSec
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	if cfg.KeepFraction <= 0 || cfg.KeepFraction > 1 {
		cfg.KeepFraction = DefaultConfig().KeepFraction
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = DefaultConfig().RetentionHours
	}
	imm := make(map[string]struct{}, len(cfg.ImmediateTypes))
	for _, t := range cfg.ImmediateTypes {
		imm[t] = struct{}{}
	}
	return &Manager{
		cfg:       cfg,
		lastFired: make(map[string]time.Time),
		immediate: imm,
		notifiers: notifiers,
		now:       now,
	}
}

// Raise creates and records an alert unless a prior alert with the same
// (type, entity) key fired within the cooldown interval. The bool reports
// whether the alert was accepted.
func (m *Manager) Raise(alertType, entityID string, sev Severity, message string) (Alert, bool) {
	now := m.now().UTC()
	key := alertType + "|" + entityID

	m.mu.Lock()
	if last, ok := m.lastFired[key]; ok {
		if now.Sub(last) < time.Duration(m.cfg.CooldownSec)*time.Second {
			m.mu.Unlock()
			observ.IncCounter("alerts_suppressed_total", map[string]string{"type": alertType})
			return Alert{}, false
		}
	}
	m.lastFired[key] = now

	_, immediate := m.immediate[alertType]
	a := Alert{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Type:      alertType,
		Severity:  sev,
		Message:   message,
		Timestamp: now,
		Escalated: immediate || sev == SevCritical,
	}
	m.history = append(m.history, a)
	m.pruneLocked(now)
	notifiers := m.notifiers
	m.mu.Unlock()

	observ.IncCounter("alerts_raised_total", map[string]string{"type": alertType, "severity": sev.String()})
	for _, n := range notifiers {
		n.Notify(a)
		if a.Escalated {
			n.NotifyEscalation(a)
		}
	}
	return a, true
}

// Acknowledge marks an alert as seen by an operator.
func (m *Manager) Acknowledge(id string) error {
	return m.mark(id, func(a *Alert) { a.Acknowledged = true })
}

// Resolve marks an alert's underlying condition as cleared.
func (m *Manager) Resolve(id string) error {
	return m.mark(id, func(a *Alert) { a.Resolved = true })
}

func (m *Manager) mark(id string, mut func(*Alert)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		if m.history[i].ID == id {
			mut(&m.history[i])
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

// Open returns unresolved alerts, oldest first.
func (m *Manager) Open() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.history {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// History returns up to limit most recent alerts (all when limit <= 0).
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, limit)
	copy(out, m.history[n-limit:])
	return out
}

// Prune drops alerts past the retention window and enforces the count cap.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now().UTC())
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(m.cfg.RetentionHours) * time.Hour)
	kept := m.history[:0]
	for _, a := range m.history {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.history = kept

	if len(m.history) > m.cfg.MaxHistory {
		keep := int(float64(m.cfg.MaxHistory) * m.cfg.KeepFraction)
		if keep < 1 {
			keep = 1
		}
		m.history = append(m.history[:0], m.history[len(m.history)-keep:]...)
	}

	// Drop cooldown entries that can no longer suppress anything.
	ttl := time.Duration(m.cfg.CooldownSec) * time.Second
	for k, ts := range m.lastFired {
		if now.Sub(ts) > ttl {
			delete(m.lastFired, k)
		}
	}
}
