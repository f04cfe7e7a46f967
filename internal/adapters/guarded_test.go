package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuardedServesFreshData(t *testing.T) {
	mock := NewMock()
	mock.SetQuote(Quote{Symbol: "CLM5", Last: 78.25, Bid: 78.24, Ask: 78.26, Volume: 120000, Timestamp: time.Now()})
	g := NewGuarded(mock, DefaultGuardedConfig())

	q, err := g.GetQuote(context.Background(), "CLM5")
	require.NoError(t, err)
	require.Equal(t, 78.25, q.Last)
}

func TestGuardedFallsBackToCache(t *testing.T) {
	mock := NewMock()
	mock.SetContract(ContractData{Code: "CLM5", Price: 78.25, Volume: 120000, OpenInterest: 300000})
	g := NewGuarded(mock, DefaultGuardedConfig())
	ctx := context.Background()

	cd, err := g.GetContractData(ctx, "CLM5")
	require.NoError(t, err)
	require.Equal(t, int64(120000), cd.Volume)

	mock.SetFailing(true)
	cd, err = g.GetContractData(ctx, "CLM5")
	require.NoError(t, err, "cached value serves while provider is down")
	require.Equal(t, int64(120000), cd.Volume)

	// A key that was never cached surfaces the error.
	_, err = g.GetContractData(ctx, "CLN5")
	require.Error(t, err)
}

func TestGuardedRejectsInvalidQuotes(t *testing.T) {
	mock := NewMock()
	mock.SetQuote(Quote{Symbol: "ESM5", Last: -1})
	g := NewGuarded(mock, DefaultGuardedConfig())

	_, err := g.GetQuote(context.Background(), "ESM5")
	require.Error(t, err)
}

func TestValidateQuote(t *testing.T) {
	ok := &Quote{Symbol: " esm5 ", Last: 5000, Bid: 4999.75, Ask: 5000.25}
	require.NoError(t, ValidateQuote(ok))
	require.Equal(t, "ESM5", ok.Symbol)

	require.Error(t, ValidateQuote(nil))
	require.Error(t, ValidateQuote(&Quote{Symbol: "X", Last: 10, Bid: 11, Ask: 10.5}))
	require.Error(t, ValidateQuote(&Quote{Symbol: "X", Last: 10, Volume: -1}))
}
