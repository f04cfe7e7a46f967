package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is a deterministic in-memory MarketData provider for tests and the
// demo binary. Zero value serves empty data; use the setters to seed it.
type Mock struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	contracts map[string]ContractData
	failing   bool
	calls     int
}

func NewMock() *Mock {
	return &Mock{
		quotes:    make(map[string]Quote),
		contracts: make(map[string]ContractData),
	}
}

func (m *Mock) SetQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

func (m *Mock) SetContract(cd ContractData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[cd.Code] = cd
}

// SetFailing makes every call error, for degradation tests.
func (m *Mock) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *Mock) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *Mock) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	m.mu.Lock()
	m.calls++
	failing := m.failing
	q, ok := m.quotes[symbol]
	m.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("mock: provider down")
	}
	if !ok {
		return nil, fmt.Errorf("mock: no quote for %s", symbol)
	}
	return &q, nil
}

func (m *Mock) GetContractData(ctx context.Context, contractCode string) (*ContractData, error) {
	m.mu.Lock()
	m.calls++
	failing := m.failing
	cd, ok := m.contracts[contractCode]
	m.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("mock: provider down")
	}
	if !ok {
		return nil, fmt.Errorf("mock: no contract data for %s", contractCode)
	}
	return &cd, nil
}

func (m *Mock) GetHistoricalBar(ctx context.Context, symbol string, lookback time.Duration) (*Bar, error) {
	m.mu.Lock()
	m.calls++
	failing := m.failing
	q, ok := m.quotes[symbol]
	m.mu.Unlock()
	if failing || !ok {
		return nil, fmt.Errorf("mock: no bar for %s", symbol)
	}
	return &Bar{Symbol: symbol, Open: q.Last, High: q.Last, Low: q.Last, Close: q.Last, Volume: q.Volume, Start: q.Timestamp.Add(-lookback)}, nil
}

func (m *Mock) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return fmt.Errorf("mock: unhealthy")
	}
	return nil
}

func (m *Mock) Close() error { return nil }
