package defi

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/gateway/saucerswap"
)

type fakeDex struct {
	positions []saucerswap.PoolPosition
	err       error
}

func (f *fakeDex) AccountPositions(_ context.Context, _, _ string) ([]saucerswap.PoolPosition, error) {
	return f.positions, f.err
}

type fakeLending struct {
	dash      bonzo.Dashboard
	dashErr   error
	reserves  []bonzo.Reserve
	marketErr error
}

func (f *fakeLending) AccountDashboard(_ context.Context, _ string) (bonzo.Dashboard, error) {
	return f.dash, f.dashErr
}

func (f *fakeLending) Market(_ context.Context) ([]bonzo.Reserve, error) {
	return f.reserves, f.marketErr
}

func testCfg() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		LowLiquidityUSD:       1000.0,
		HighUtilizationPct:    90.0,
		UnhealthyHealthFactor: 1.2,
	}
}

func TestProfileAggregatesBothProtocols(t *testing.T) {
	dex := &fakeDex{positions: []saucerswap.PoolPosition{
		{PoolID: "1", TokenA: "HBAR", TokenB: "SAUCE", USDValue: 500, Liquidity: 50000},
	}}
	lending := &fakeLending{dash: bonzo.Dashboard{
		AccountID:     "0.0.12345",
		TotalSupplied: 300,
		Positions:     []bonzo.Position{{Symbol: "USDC", Side: "supplied", USDValue: 300}},
	}}

	svc := NewService(dex, lending, testCfg())
	p, err := svc.Profile(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	assert.InDelta(t, 800.0, p.TotalValueLocked, 1e-9)
	assert.Equal(t, 2, p.PositionCount)
	assert.Empty(t, p.Warnings)
	assert.Empty(t, p.RiskFlags)
}

func TestProfileSingleFailureDegrades(t *testing.T) {
	dex := &fakeDex{err: fmt.Errorf("dex down")}
	lending := &fakeLending{dash: bonzo.Dashboard{TotalSupplied: 100}}

	svc := NewService(dex, lending, testCfg())
	p, err := svc.Profile(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "saucerswap")
	assert.InDelta(t, 100.0, p.TotalValueLocked, 1e-9)
}

func TestProfileBothFailuresError(t *testing.T) {
	dex := &fakeDex{err: fmt.Errorf("dex down")}
	lending := &fakeLending{dashErr: fmt.Errorf("lending down")}

	svc := NewService(dex, lending, testCfg())
	_, err := svc.Profile(context.Background(), "mainnet", "0.0.12345")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "全部不可用")
}

func TestProfileRejectsBadAccountID(t *testing.T) {
	svc := NewService(&fakeDex{}, &fakeLending{}, testCfg())
	_, err := svc.Profile(context.Background(), "mainnet", "not-an-account")
	require.Error(t, err)
}

func TestRiskFlags(t *testing.T) {
	dex := &fakeDex{positions: []saucerswap.PoolPosition{
		{TokenA: "XYZ", TokenB: "HBAR", USDValue: 50, Liquidity: 400},
		{TokenA: "HBAR", TokenB: "USDC", USDValue: 200, Liquidity: 90000},
	}}
	lending := &fakeLending{
		dash: bonzo.Dashboard{
			TotalSupplied: 100,
			TotalBorrowed: 80,
			HealthFactor:  1.05,
			Positions:     []bonzo.Position{{Symbol: "SAUCE", Side: "borrowed", USDValue: 80}},
		},
		reserves: []bonzo.Reserve{{Symbol: "SAUCE", UtilizationPct: 96.5}},
	}

	svc := NewService(dex, lending, testCfg())
	p, err := svc.Profile(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	assert.Contains(t, p.RiskFlags, "low-liquidity:XYZ/HBAR")
	assert.Contains(t, p.RiskFlags, "unhealthy-position:hf=1.05")
	assert.Contains(t, p.RiskFlags, "high-utilization:SAUCE")
	assert.Len(t, p.RiskFlags, 3)
}

func TestRiskFlagsMarketFailureSkipsUtilization(t *testing.T) {
	lending := &fakeLending{
		dash: bonzo.Dashboard{
			TotalSupplied: 100,
			Positions:     []bonzo.Position{{Symbol: "SAUCE", Side: "borrowed", USDValue: 80}},
		},
		marketErr: fmt.Errorf("market down"),
	}

	svc := NewService(&fakeDex{}, lending, testCfg())
	p, err := svc.Profile(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	assert.Empty(t, p.RiskFlags)
}
