// Package catalog holds the static specification tables for tracked
// entities. Attributes here are looked up at startup and never mutated at
// runtime; both domains (futures contract rolls, macro economic releases)
// share the same EntitySpec shape so the engine has a single code path.
package catalog

import (
	"fmt"
	"time"

	"github.com/tradeops/eventguard/internal/recurrence"
)

// Domain tags which concrete tracking domain an entity belongs to.
type Domain string

const (
	DomainFuturesRoll Domain = "futures_roll"
	DomainEconRelease Domain = "econ_release"
)

// ImpactTier is the ordered severity classification of a scheduled event.
type ImpactTier int

const (
	TierLow ImpactTier = iota
	TierMedium
	TierHigh
	TierVeryHigh
	TierExtreme
)

var tierNames = map[ImpactTier]string{
	TierLow:      "low",
	TierMedium:   "medium",
	TierHigh:     "high",
	TierVeryHigh: "very_high",
	TierExtreme:  "extreme",
}

func (t ImpactTier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tier_%d", int(t))
}

// Tiers lists all tiers in ascending severity order.
func Tiers() []ImpactTier {
	return []ImpactTier{TierLow, TierMedium, TierHigh, TierVeryHigh, TierExtreme}
}

// TierFromString parses a tier name as used in YAML config.
func TierFromString(s string) (ImpactTier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierLow, fmt.Errorf("unknown impact tier %q", s)
}

// Cycle is the contract listing cycle for futures entities.
type Cycle string

const (
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
)

// EntitySpec is the immutable identity and attributes of one tracked entity.
type EntitySpec struct {
	ID            string // contract root (ES, CL) or release code (NFP, CPI)
	Name          string
	Domain        Domain
	Sector        string // futures sector, empty for releases
	TickSize      float64
	Cycle         Cycle // futures only
	Rule          recurrence.Rule
	Tier          ImpactTier
	HorizonMonths int // calendar lookahead
}

// Validate catches table mistakes at startup rather than mid-tick.
func (s EntitySpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("entity spec with empty id")
	}
	if s.Domain != DomainFuturesRoll && s.Domain != DomainEconRelease {
		return fmt.Errorf("entity %s: unknown domain %q", s.ID, s.Domain)
	}
	if s.Domain == DomainFuturesRoll && s.Cycle != CycleMonthly && s.Cycle != CycleQuarterly {
		return fmt.Errorf("entity %s: unknown cycle %q", s.ID, s.Cycle)
	}
	if s.HorizonMonths <= 0 {
		return fmt.Errorf("entity %s: horizon %d months", s.ID, s.HorizonMonths)
	}
	if err := s.Rule.Validate(); err != nil {
		return fmt.Errorf("entity %s: %w", s.ID, err)
	}
	return nil
}

// MonthInCycle reports whether the given month produces an occurrence for
// this entity. Monthly cycles and economic releases occur every month;
// quarterly futures only list March, June, September and December.
func (s EntitySpec) MonthInCycle(m time.Month) bool {
	if s.Domain == DomainEconRelease || s.Cycle != CycleQuarterly {
		return true
	}
	switch m {
	case time.March, time.June, time.September, time.December:
		return true
	}
	return false
}

// CME-style month codes, January through December.
var monthCodes = [12]byte{'F', 'G', 'H', 'J', 'K', 'M', 'N', 'Q', 'U', 'V', 'X', 'Z'}

// ContractCode builds the listed contract code for a root and delivery
// month, e.g. ContractCode("CL", 2025, time.June) == "CLM5".
func ContractCode(root string, year int, month time.Month) string {
	return fmt.Sprintf("%s%c%d", root, monthCodes[month-1], year%10)
}

// NextCycleMonth returns the first listed delivery month strictly after the
// given one for the entity's cycle.
func (s EntitySpec) NextCycleMonth(year int, month time.Month) (int, time.Month) {
	for {
		month++
		if month > time.December {
			month = time.January
			year++
		}
		if s.MonthInCycle(month) {
			return year, month
		}
	}
}

// Futures returns the futures-roll tracking table. Roll rules approximate
// each contract's last-trade convention; without a holiday calendar the
// resolved date can drift by under a day near public holidays.
func Futures() []EntitySpec {
	thirdFriday := recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Friday, Ordinal: 3, Hour: 14, Minute: 30}
	return []EntitySpec{
		{
			ID: "ES", Name: "E-mini S&P 500", Domain: DomainFuturesRoll, Sector: "equity_index",
			TickSize: 0.25, Cycle: CycleQuarterly,
			Rule: recurrence.Rule{Kind: recurrence.KindBusinessDaysBeforeNthWeekday, Weekday: time.Friday, Ordinal: 3, Offset: 5, Hour: 14, Minute: 30},
			Tier: TierVeryHigh, HorizonMonths: 12,
		},
		{
			ID: "NQ", Name: "E-mini Nasdaq-100", Domain: DomainFuturesRoll, Sector: "equity_index",
			TickSize: 0.25, Cycle: CycleQuarterly,
			Rule: recurrence.Rule{Kind: recurrence.KindBusinessDaysBeforeNthWeekday, Weekday: time.Friday, Ordinal: 3, Offset: 5, Hour: 14, Minute: 30},
			Tier: TierVeryHigh, HorizonMonths: 12,
		},
		{
			ID: "CL", Name: "WTI Crude Oil", Domain: DomainFuturesRoll, Sector: "energy",
			TickSize: 0.01, Cycle: CycleMonthly,
			Rule: recurrence.Rule{Kind: recurrence.KindFixedDay, Day: 25, Offset: 3, Hour: 18, Minute: 30},
			Tier: TierHigh, HorizonMonths: 12,
		},
		{
			ID: "GC", Name: "Gold", Domain: DomainFuturesRoll, Sector: "metals",
			TickSize: 0.10, Cycle: CycleMonthly,
			Rule: recurrence.Rule{Kind: recurrence.KindLastBusinessDay, Offset: 2, Hour: 17, Minute: 30},
			Tier: TierMedium, HorizonMonths: 12,
		},
		{
			ID: "6E", Name: "Euro FX", Domain: DomainFuturesRoll, Sector: "currency",
			TickSize: 0.00005, Cycle: CycleQuarterly,
			Rule: recurrence.Rule{Kind: recurrence.KindBusinessDaysBeforeNthWeekday, Weekday: time.Wednesday, Ordinal: 3, Offset: 2, Hour: 14, Minute: 0},
			Tier: TierMedium, HorizonMonths: 12,
		},
		{
			ID: "ZN", Name: "10-Year T-Note", Domain: DomainFuturesRoll, Sector: "rates",
			TickSize: 0.015625, Cycle: CycleQuarterly,
			Rule: recurrence.Rule{Kind: recurrence.KindLastBusinessDay, Offset: 7, Hour: 17, Minute: 0},
			Tier: TierHigh, HorizonMonths: 12,
		},
		{
			ID: "RTY", Name: "E-mini Russell 2000", Domain: DomainFuturesRoll, Sector: "equity_index",
			TickSize: 0.10, Cycle: CycleQuarterly,
			Rule: thirdFriday,
			Tier: TierHigh, HorizonMonths: 12,
		},
	}
}

// EconomicReleases returns the macro release tracking table. Release rules
// are the published monthly conventions; times are UTC.
func EconomicReleases() []EntitySpec {
	return []EntitySpec{
		{
			ID: "NFP", Name: "Nonfarm Payrolls", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Friday, Ordinal: 1, Hour: 12, Minute: 30},
			Tier: TierExtreme, HorizonMonths: 2,
		},
		{
			ID: "CPI", Name: "Consumer Price Index", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindFixedDay, Day: 12, Hour: 12, Minute: 30},
			Tier: TierExtreme, HorizonMonths: 2,
		},
		{
			ID: "FOMC", Name: "FOMC Rate Decision", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Wednesday, Ordinal: 3, Hour: 18, Minute: 0},
			Tier: TierExtreme, HorizonMonths: 2,
		},
		{
			ID: "PPI", Name: "Producer Price Index", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindFixedDay, Day: 14, Hour: 12, Minute: 30},
			Tier: TierHigh, HorizonMonths: 2,
		},
		{
			ID: "RETAIL", Name: "Retail Sales", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindFixedDay, Day: 16, Hour: 12, Minute: 30},
			Tier: TierHigh, HorizonMonths: 2,
		},
		{
			ID: "GDP", Name: "GDP Advance Estimate", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindLastBusinessDay, Offset: 2, Hour: 12, Minute: 30},
			Tier: TierHigh, HorizonMonths: 2,
		},
		{
			ID: "UMICH", Name: "Michigan Consumer Sentiment", Domain: DomainEconRelease,
			Rule: recurrence.Rule{Kind: recurrence.KindNthWeekday, Weekday: time.Friday, Ordinal: 2, Hour: 14, Minute: 0},
			Tier: TierMedium, HorizonMonths: 2,
		},
	}
}
