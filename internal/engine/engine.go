// Package engine is the orchestration layer: a monitoring scheduler that
// runs event tracking, risk assessment, protection control and alerting in
// strict order for every tracked entity, and exposes read-only accessors
// plus a published event stream to the rest of the trading system.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradeops/eventguard/internal/adapters"
	"github.com/tradeops/eventguard/internal/alerts"
	"github.com/tradeops/eventguard/internal/assess"
	"github.com/tradeops/eventguard/internal/calendar"
	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/config"
	"github.com/tradeops/eventguard/internal/observ"
	"github.com/tradeops/eventguard/internal/protect"
)

// Status is the engine's externally visible health summary.
type Status struct {
	Running           bool      `json:"running"`
	TrackedEntities   int       `json:"tracked_entities"`
	OpenAlerts        int       `json:"open_alerts"`
	ActiveProtections int       `json:"active_protections"`
	LastRefresh       time.Time `json:"last_refresh"`
	LastTick          time.Time `json:"last_tick"`
}

// Engine owns all mutable monitoring state. Callers observe it only
// through accessors; the single scheduler loop is the only writer during
// normal operation.
type Engine struct {
	cfg        config.Root
	tracker    *calendar.Tracker
	assessor   *assess.Assessor
	controller *protect.Controller
	alertMgr   *alerts.Manager
	md         adapters.MarketData // nil means signal bands are skipped
	bus        *bus
	cron       *cron.Cron
	now        func() time.Time

	mu          sync.Mutex
	running     bool
	ticking     bool
	lastTick    time.Time
	assessments map[string]assess.Assessment
	seen        map[string]int // entityID -> last occurrence announced

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options carries the injected collaborators.
type Options struct {
	Config      config.Root
	Specs       []catalog.EntitySpec
	Feed        calendar.Feed        // optional
	MarketData  adapters.MarketData  // optional
	RiskManager protect.RiskManager  // optional
	Notifiers   []alerts.Notifier    // optional
	Now         func() time.Time     // test hook
}

// New validates configuration and builds the engine. Invalid configuration
// fails here, before anything is scheduled.
func New(opts Options) (*Engine, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	gen := calendar.NewGenerator(opts.Feed, now)
	tracker, err := calendar.NewTracker(gen, opts.Specs, now)
	if err != nil {
		return nil, err
	}
	assessor, err := assess.New(opts.Config.Assess)
	if err != nil {
		return nil, err
	}
	controller, err := protect.NewController(opts.Config.Protect, opts.RiskManager)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         opts.Config,
		tracker:     tracker,
		assessor:    assessor,
		controller:  controller,
		alertMgr:    alerts.NewManager(opts.Config.Alerts.Config, now, opts.Notifiers...),
		md:          opts.MarketData,
		bus:         newBus(),
		now:         now,
		assessments: make(map[string]assess.Assessment),
		seen:        make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start refreshes the calendar, runs one immediate evaluation pass, then
// begins the recurring tick and the cron-driven calendar rebuild.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	if err := e.tracker.Refresh(e.ctx); err != nil {
		observ.Warn("engine_initial_refresh_degraded", map[string]any{"error": err.Error()})
	}
	e.RunTick()

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.cfg.Scheduler.RefreshCron, func() {
		if err := e.tracker.Refresh(e.ctx); err != nil {
			observ.Warn("calendar_refresh_degraded", map[string]any{"error": err.Error()})
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh_cron %q: %w", e.cfg.Scheduler.RefreshCron, err)
	}
	e.cron.Start()

	e.wg.Add(1)
	go e.loop()

	observ.Log("engine_started", map[string]any{"entities": len(e.tracker.TrackedIDs())})
	return nil
}

// Stop cancels the recurring tick. In-flight fetches are abandoned via
// context cancellation; last-known state stays queryable.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	if e.cron != nil {
		e.cron.Stop()
	}
	e.wg.Wait()
	observ.Log("engine_stopped", nil)
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		timer := time.NewTimer(e.currentInterval())
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.RunTick()
		}
	}
}

// currentInterval shortens the cadence when any tracked event is inside
// the hot threshold.
func (e *Engine) currentInterval() time.Duration {
	hot := time.Duration(e.cfg.Scheduler.HotThresholdHours) * time.Hour
	if len(e.tracker.EventsInWindow(0, hot)) > 0 {
		return time.Duration(e.cfg.Scheduler.HotIntervalSec) * time.Second
	}
	return time.Duration(e.cfg.Scheduler.BaseIntervalSec) * time.Second
}

// RunTick executes one full evaluation pass. A tick already in progress
// makes the new request a no-op rather than a concurrent pass.
func (e *Engine) RunTick() {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		observ.IncCounter("engine_ticks_skipped_total", nil)
		return
	}
	e.ticking = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.lastTick = e.now().UTC()
		e.mu.Unlock()
	}()

	now := e.now().UTC()
	for _, id := range e.tracker.TrackedIDs() {
		e.evaluateEntity(id, now)
	}
	e.alertMgr.Prune()
	observ.IncCounter("engine_ticks_total", nil)
	observ.SetGauge("engine_active_protections", float64(len(e.controller.Active())), nil)
}

// evaluateEntity runs the strict per-entity pipeline: tracker, signals,
// assessor, controller, alerts. No entity's evaluation depends on another's.
func (e *Engine) evaluateEntity(id string, now time.Time) {
	spec, ok := e.tracker.Spec(id)
	if !ok {
		return
	}
	ev, ok := e.tracker.CurrentEvent(id, now)
	if !ok {
		return
	}

	e.mu.Lock()
	firstSight := e.seen[id] != ev.Occurrence
	e.seen[id] = ev.Occurrence
	e.mu.Unlock()
	if firstSight {
		cev := ev
		e.bus.publish(Event{Type: EventDetected, EntityID: id, At: now, CalendarEvent: &cev})
	}

	sig := e.signals(spec, ev)
	asmt := e.assessor.Assess(spec, ev, sig, now)

	e.mu.Lock()
	prev, had := e.assessments[id]
	e.assessments[id] = asmt
	e.mu.Unlock()

	if (!had && asmt.Level != assess.LevelNone) || (had && prev.Level != asmt.Level) {
		a := asmt
		e.bus.publish(Event{Type: RiskLevelChanged, EntityID: id, At: now, Assessment: &a})
		e.raiseRiskAlert(asmt)
	}

	for _, tr := range e.controller.Evaluate(e.ctx, spec, ev, now) {
		e.publishTransition(id, tr, now)
	}
}

func (e *Engine) raiseRiskAlert(asmt assess.Assessment) {
	alertType := "risk_elevated"
	sev := severityForLevel(asmt.Level)
	if asmt.Level == assess.LevelCritical {
		alertType = "risk_critical"
	}
	if asmt.Level == assess.LevelNone {
		return
	}
	msg := fmt.Sprintf("%s risk %s (score %.0f)", asmt.EntityID, asmt.Level, asmt.Score)
	e.publishAlert(e.alertMgr.Raise(alertType, asmt.EntityID, sev, msg))
}

func (e *Engine) publishTransition(id string, tr protect.Transition, now time.Time) {
	if tr.Window != nil {
		w := *tr.Window
		e.bus.publish(Event{Type: ProtectionActivated, EntityID: id, At: now, Window: &w})
		msg := fmt.Sprintf("%s %s protection active until %s", id, w.Phase, w.ExpiresAt.Format(time.RFC3339))
		e.publishAlert(e.alertMgr.Raise("protection_activated", id, severityForTier(w.Tier), msg))
		return
	}
	e.bus.publish(Event{Type: ProtectionDeactivated, EntityID: id, At: now})
	msg := fmt.Sprintf("%s %s protection released", id, tr.From)
	e.publishAlert(e.alertMgr.Raise("protection_deactivated", id, alerts.SevInfo, msg))
}

func (e *Engine) publishAlert(a alerts.Alert, ok bool) {
	if !ok {
		return
	}
	al := a
	e.bus.publish(Event{Type: AlertRaised, EntityID: a.EntityID, At: a.Timestamp, Alert: &al})
	if a.Escalated {
		e.bus.publish(Event{Type: AlertEscalated, EntityID: a.EntityID, At: a.Timestamp, Alert: &al})
	}
}

// signals computes the supplementary bands for futures rolls from current
// and next contract data. Any fetch failure just leaves the signal nil:
// degraded, not failed.
func (e *Engine) signals(spec catalog.EntitySpec, ev calendar.Event) assess.Signals {
	var sig assess.Signals
	if e.md == nil || spec.Domain != catalog.DomainFuturesRoll {
		return sig
	}
	year, month := ev.Occurrence/100, time.Month(ev.Occurrence%100)
	curCode := catalog.ContractCode(spec.ID, year, month)
	ny, nm := spec.NextCycleMonth(year, month)
	nextCode := catalog.ContractCode(spec.ID, ny, nm)

	ctx, cancel := context.WithTimeout(e.ctx, time.Duration(e.cfg.MarketData.TimeoutMs)*time.Millisecond*2)
	defer cancel()

	cur, errCur := e.md.GetContractData(ctx, curCode)
	next, errNext := e.md.GetContractData(ctx, nextCode)
	if errCur != nil || errNext != nil {
		observ.Warn("roll_signals_degraded", map[string]any{
			"entity": spec.ID, "current": curCode, "next": nextCode,
		})
		return sig
	}
	if total := cur.Volume + next.Volume; total > 0 {
		ratio := float64(next.Volume) / float64(total)
		sig.VolumeMigration = &ratio
	}
	if cur.Price > 0 {
		gap := (next.Price - cur.Price) / cur.Price
		sig.PriceDistortion = &gap
	}
	return sig
}

func severityForLevel(l assess.Level) alerts.Severity {
	switch l {
	case assess.LevelCritical:
		return alerts.SevCritical
	case assess.LevelHigh:
		return alerts.SevHigh
	case assess.LevelMedium:
		return alerts.SevWarning
	default:
		return alerts.SevInfo
	}
}

func severityForTier(t catalog.ImpactTier) alerts.Severity {
	switch t {
	case catalog.TierExtreme:
		return alerts.SevCritical
	case catalog.TierVeryHigh, catalog.TierHigh:
		return alerts.SevHigh
	default:
		return alerts.SevWarning
	}
}

// Subscribe attaches a consumer to the event stream. The returned cancel
// detaches and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.bus.subscribe(buffer)
}

// Status summarizes engine state for dashboards.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running, lastTick := e.running, e.lastTick
	e.mu.Unlock()
	return Status{
		Running:           running,
		TrackedEntities:   len(e.tracker.TrackedIDs()),
		OpenAlerts:        len(e.alertMgr.Open()),
		ActiveProtections: len(e.controller.Active()),
		LastRefresh:       e.tracker.LastRefresh(),
		LastTick:          lastTick,
	}
}

// Schedule returns the upcoming events for one entity, or for all entities
// when entityID is empty, sorted by time.
func (e *Engine) Schedule(entityID string) []calendar.Event {
	if entityID != "" {
		return e.tracker.Schedule(entityID)
	}
	return e.tracker.EventsInWindow(0, 366*24*time.Hour)
}

// RiskAssessment returns the latest snapshot for an entity, if assessed.
func (e *Engine) RiskAssessment(entityID string) (assess.Assessment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.assessments[entityID]
	return a, ok
}

// ActiveProtections returns the live protection windows.
func (e *Engine) ActiveProtections() []protect.Window {
	return e.controller.Active()
}

// Alerts returns up to limit most recent alerts.
func (e *Engine) Alerts(limit int) []alerts.Alert {
	return e.alertMgr.History(limit)
}

// AcknowledgeAlert and ResolveAlert forward operator actions.
func (e *Engine) AcknowledgeAlert(id string) error { return e.alertMgr.Acknowledge(id) }
func (e *Engine) ResolveAlert(id string) error     { return e.alertMgr.Resolve(id) }

// ForceProtection opens an operator-requested window outside the automatic
// schedule.
func (e *Engine) ForceProtection(entityID string, tier catalog.ImpactTier, duration time.Duration) error {
	if _, ok := e.tracker.Spec(entityID); !ok {
		return fmt.Errorf("unknown entity %s", entityID)
	}
	now := e.now().UTC()
	for _, tr := range e.controller.ForceActivate(e.ctx, entityID, tier, duration, now) {
		e.publishTransition(entityID, tr, now)
	}
	return nil
}

// RefreshCalendar forces an immediate synchronous calendar rebuild.
func (e *Engine) RefreshCalendar(ctx context.Context) error {
	return e.tracker.Refresh(ctx)
}
