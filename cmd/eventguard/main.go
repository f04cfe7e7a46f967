// Command eventguard runs the market-event protection engine: it tracks
// futures roll dates and economic release schedules, scores event risk,
// opens protection windows around high-impact events, and serves operator
// endpoints for status, schedules, alerts and manual overrides.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tradeops/eventguard/internal/adapters"
	"github.com/tradeops/eventguard/internal/alerts"
	"github.com/tradeops/eventguard/internal/catalog"
	"github.com/tradeops/eventguard/internal/config"
	"github.com/tradeops/eventguard/internal/engine"
	"github.com/tradeops/eventguard/internal/observ"
	"github.com/tradeops/eventguard/internal/protect"
)

func main() {
	var (
		cfgPath string
		addr    string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "", "config path (empty uses defaults)")
	flag.StringVar(&addr, "addr", ":8090", "http listen address")
	flag.BoolVar(&demo, "demo", false, "seed a mock market-data provider with roll pressure")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	specs := append(catalog.Futures(), catalog.EconomicReleases()...)

	var md adapters.MarketData
	if demo {
		mock := adapters.NewMock()
		seedDemoData(mock, specs)
		md = adapters.NewGuarded(mock, cfg.MarketData)
	}

	var notifiers []alerts.Notifier
	var webhook *alerts.WebhookNotifier
	if cfg.Alerts.Webhook.Enabled {
		webhook = alerts.NewWebhookNotifier(cfg.Alerts.Webhook)
		notifiers = append(notifiers, webhook)
	}
	store, err := alerts.OpenStore(cfg.Alerts.ArchiveDSN)
	if err != nil {
		log.Fatalf("open alert archive: %v", err)
	}
	if store != nil {
		if err := store.Init(context.Background()); err != nil {
			log.Fatalf("init alert archive: %v", err)
		}
		notifiers = append(notifiers, store)
	}

	eng, err := engine.New(engine.Options{
		Config:      cfg,
		Specs:       specs,
		MarketData:  md,
		RiskManager: loggingRiskManager{},
		Notifiers:   notifiers,
	})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	events, cancelSub := eng.Subscribe(256)
	go func() {
		for ev := range events {
			observ.Log("engine_event", map[string]any{"type": string(ev.Type), "entity": ev.EntityID})
		}
	}()

	go serveHTTP(addr, eng)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	observ.Log("shutdown_requested", nil)
	eng.Stop()
	cancelSub()
	if webhook != nil {
		webhook.Close()
	}
	if err := store.Close(); err != nil {
		observ.Warn("alert_archive_close_failed", map[string]any{"error": err.Error()})
	}
}

// loggingRiskManager records protection transitions in the log. A real
// deployment wires the execution layer's risk manager here.
type loggingRiskManager struct{}

func (loggingRiskManager) ApplyProtectionMeasures(_ context.Context, w protect.Window) error {
	observ.Log("protection_applied", map[string]any{
		"entity":  w.EntityID,
		"phase":   w.Phase.String(),
		"tier":    w.Tier.String(),
		"bp_frac": w.Rules.BuyingPowerFraction,
		"expires": w.ExpiresAt.Format(time.RFC3339),
	})
	return nil
}

func (loggingRiskManager) ReleaseProtectionMeasures(_ context.Context, entityID string) error {
	observ.Log("protection_released", map[string]any{"entity": entityID})
	return nil
}

// seedDemoData gives every futures root current- and next-contract data
// showing volume well into migration, so the demo produces visible scores.
func seedDemoData(mock *adapters.Mock, specs []catalog.EntitySpec) {
	now := time.Now().UTC()
	for _, spec := range specs {
		if spec.Domain != catalog.DomainFuturesRoll {
			continue
		}
		year, month := now.Year(), now.Month()
		if !spec.MonthInCycle(month) {
			year, month = spec.NextCycleMonth(year, month)
		}
		ny, nm := spec.NextCycleMonth(year, month)
		mock.SetContract(adapters.ContractData{
			Code: catalog.ContractCode(spec.ID, year, month), Price: 100, Volume: 55000, OpenInterest: 250000,
		})
		mock.SetContract(adapters.ContractData{
			Code: catalog.ContractCode(spec.ID, ny, nm), Price: 101.2, Volume: 65000, OpenInterest: 110000,
		})
	}
}

func serveHTTP(addr string, eng *engine.Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Status())
	})
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Schedule(r.URL.Query().Get("entity")))
	})
	mux.HandleFunc("/risk", func(w http.ResponseWriter, r *http.Request) {
		asmt, ok := eng.RiskAssessment(r.URL.Query().Get("entity"))
		if !ok {
			http.Error(w, "no assessment", http.StatusNotFound)
			return
		}
		writeJSON(w, asmt)
	})
	mux.HandleFunc("/protections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.ActiveProtections())
	})
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, eng.Alerts(limit))
	})
	mux.HandleFunc("/alerts/ack", func(w http.ResponseWriter, r *http.Request) {
		operatorAction(w, r, eng.AcknowledgeAlert)
	})
	mux.HandleFunc("/alerts/resolve", func(w http.ResponseWriter, r *http.Request) {
		operatorAction(w, r, eng.ResolveAlert)
	})
	mux.HandleFunc("/protect/force", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		tier, err := catalog.TierFromString(r.URL.Query().Get("tier"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hours, err := strconv.ParseFloat(r.URL.Query().Get("hours"), 64)
		if err != nil || hours <= 0 {
			http.Error(w, "hours must be a positive number", http.StatusBadRequest)
			return
		}
		dur := time.Duration(hours * float64(time.Hour))
		if err := eng.ForceProtection(r.URL.Query().Get("entity"), tier, dur); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "forced"})
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := eng.RefreshCalendar(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"status": "refreshed"})
	})
	mux.Handle("/metrics", observ.Handler())

	observ.Log("http_listening", map[string]any{"addr": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

func operatorAction(w http.ResponseWriter, r *http.Request, act func(string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := act(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
