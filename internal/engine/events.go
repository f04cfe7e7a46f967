package engine

import (
	"sync"
	"time"

	"github.com/tradeops/eventguard/internal/alerts"
	"github.com/tradeops/eventguard/internal/assess"
	"github.com/tradeops/eventguard/internal/calendar"
	"github.com/tradeops/eventguard/internal/observ"
	"github.com/tradeops/eventguard/internal/protect"
)

// EventType enumerates everything the engine publishes. The set is finite
// so subscribers can switch exhaustively.
type EventType string

const (
	EventDetected         EventType = "event_detected"
	RiskLevelChanged      EventType = "risk_level_changed"
	ProtectionActivated   EventType = "protection_activated"
	ProtectionDeactivated EventType = "protection_deactivated"
	AlertRaised           EventType = "alert_raised"
	AlertEscalated        EventType = "alert_escalated"
)

// Event is one engine notification. Only the payload fields relevant to the
// Type are set.
type Event struct {
	Type          EventType          `json:"type"`
	EntityID      string             `json:"entity_id"`
	At            time.Time          `json:"at"`
	CalendarEvent *calendar.Event    `json:"calendar_event,omitempty"`
	Assessment    *assess.Assessment `json:"assessment,omitempty"`
	Window        *protect.Window    `json:"window,omitempty"`
	Alert         *alerts.Alert      `json:"alert,omitempty"`
}

// bus is a minimal publish/subscribe fanout. Slow subscribers drop events
// rather than stall the tick.
type bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			observ.IncCounter("engine_events_dropped_total", map[string]string{"type": string(ev.Type)})
		}
	}
}
