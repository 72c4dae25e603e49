package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/analytics"
	"majorgainz/internal/component"
	"majorgainz/internal/config"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

func testRenderer() *Renderer {
	return NewRenderer(config.RenderConfig{WidthPx: 800, HeightPx: 400})
}

func testPortfolio() *portfolio.Portfolio {
	return &portfolio.Portfolio{
		AccountID: "0.0.12345",
		TotalUSD:  1500,
		Holdings: []portfolio.Holding{
			{Symbol: "HBAR", ValueUSD: 1000, Percent: 66.7},
			{Symbol: "SAUCE", ValueUSD: 500, Percent: 33.3},
		},
	}
}

func TestDispatchPortfolioPie(t *testing.T) {
	inst := component.Instruction{ID: "c-1", Type: component.TypePortfolioChart, Title: "Portfolio Allocation"}
	frag, err := testRenderer().Dispatch(inst, Data{Portfolio: testPortfolio()})
	require.NoError(t, err)

	assert.Equal(t, "c-1", frag.ID)
	assert.Equal(t, "Portfolio Allocation", frag.Title)
	html := string(frag.HTML)
	assert.Contains(t, html, "Portfolio Allocation")
	assert.Contains(t, html, "HBAR")
	assert.Contains(t, html, "SAUCE")
}

func TestDispatchLegacyTypeUsesPie(t *testing.T) {
	inst := component.Instruction{ID: "c-2", Type: component.TypeLegacyPortfolioChart}
	frag, err := testRenderer().Dispatch(inst, Data{Portfolio: testPortfolio()})
	require.NoError(t, err)
	assert.Contains(t, string(frag.HTML), "HBAR")
}

func TestDispatchMissingDataFails(t *testing.T) {
	inst := component.Instruction{ID: "c-3", Type: component.TypePortfolioChart}
	_, err := testRenderer().Dispatch(inst, Data{})
	assert.Error(t, err)
}

func TestDispatchUnknownType(t *testing.T) {
	inst := component.Instruction{ID: "c-4", Type: "volatility-surface"}
	_, err := testRenderer().Dispatch(inst, Data{})
	assert.Error(t, err)
}

func TestDispatchCorrelationHeatmap(t *testing.T) {
	m := &analytics.Matrix{
		Symbols: []string{"HBAR", "SAUCE"},
		Values:  [][]float64{{1, 0.42}, {0.42, 1}},
	}
	inst := component.Instruction{ID: "c-5", Type: component.TypeCorrelationMatrix}
	frag, err := testRenderer().Dispatch(inst, Data{Correlation: m})
	require.NoError(t, err)
	assert.Contains(t, string(frag.HTML), "Token Correlations")
}

func TestDispatchDefiHeatmap(t *testing.T) {
	reserves := []bonzo.Reserve{
		{Symbol: "HBAR", SupplyAPY: 2.1, BorrowAPY: 4.5, UtilizationPct: 61},
		{Symbol: "USDC", SupplyAPY: 5.4, BorrowAPY: 8.2, UtilizationPct: 88},
	}
	inst := component.Instruction{ID: "c-6", Type: component.TypeDefiHeatmap}
	frag, err := testRenderer().Dispatch(inst, Data{Reserves: reserves})
	require.NoError(t, err)
	assert.Contains(t, string(frag.HTML), "USDC")
}

func TestDispatchTokenLine(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := []gormstore.Candle{
		{Symbol: "SAUCE", Date: base, Close: 0.051},
		{Symbol: "SAUCE", Date: base.AddDate(0, 0, 1), Close: 0.055},
	}
	inst := component.Instruction{
		ID:    "c-7",
		Type:  component.TypeTokenAnalysis,
		Props: component.Props{"token": "sauce"},
	}
	frag, err := testRenderer().Dispatch(inst, Data{Candles: candles})
	require.NoError(t, err)
	assert.Contains(t, string(frag.HTML), "SAUCE")
}

func TestDispatchAllContinuesOnError(t *testing.T) {
	insts := []component.Instruction{
		{ID: "ok-1", Type: component.TypePortfolioChart},
		{ID: "bad-1", Type: component.TypeCorrelationMatrix}, // 无数据
		{ID: "ok-2", Type: component.TypeLegacyPortfolioChart},
	}
	var failed []string
	frags := testRenderer().DispatchAll(insts, Data{Portfolio: testPortfolio()}, func(id string, err error) {
		require.Error(t, err)
		failed = append(failed, id)
	})
	assert.Equal(t, []string{"bad-1"}, failed)
	require.Len(t, frags, 2)
	assert.Equal(t, "ok-1", frags[0].ID)
	assert.Equal(t, "ok-2", frags[1].ID)
}

func TestSnapshotDisabled(t *testing.T) {
	frag := &Fragment{ID: "x", HTML: []byte("<html></html>")}
	_, err := testRenderer().Snapshot(context.Background(), frag)
	assert.Error(t, err)
}
