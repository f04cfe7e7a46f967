// Package adapters defines the external market-data collaborator and the
// degradation chain around it: rate limiting, per-call timeouts, and a
// last-good cache so a flaky provider degrades scoring instead of failing
// the tick.
package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Quote is a normalized market snapshot for one instrument.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ContractData is the per-contract detail used for roll-signal computation.
type ContractData struct {
	Code         string    `json:"code"`
	Price        float64   `json:"price"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bar is one historical aggregate.
type Bar struct {
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Start  time.Time `json:"start"`
}

// MarketData is the broker/feed collaborator. Every method is assumed
// fallible and possibly absent; callers must tolerate errors.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetContractData(ctx context.Context, contractCode string) (*ContractData, error)
	GetHistoricalBar(ctx context.Context, symbol string, lookback time.Duration) (*Bar, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ValidateQuote rejects obviously broken provider data (fail closed).
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if q.Last <= 0 {
		return fmt.Errorf("invalid last price %.4f", q.Last)
	}
	if q.Ask != 0 && q.Bid != 0 && q.Ask < q.Bid {
		return fmt.Errorf("invalid spread: ask(%.4f) < bid(%.4f)", q.Ask, q.Bid)
	}
	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}
	return nil
}
