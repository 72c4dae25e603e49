package analytics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/config"
	"majorgainz/internal/store/gormstore"
)

type fakeSeries struct {
	closes map[string][]float64
}

func (f *fakeSeries) Series(_ context.Context, _, symbol string, _ int) ([]gormstore.Candle, error) {
	closes, ok := f.closes[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]gormstore.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, gormstore.Candle{
			Symbol: strings.ToUpper(symbol),
			Date:   base.AddDate(0, 0, i),
			Close:  c,
		})
	}
	return out, nil
}

func testCfg() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		DefaultDays:       90,
		MinPoints:         3,
		AnnualizationDays: 365,
	}
}

func TestReturnsComputesMetrics(t *testing.T) {
	src := &fakeSeries{closes: map[string][]float64{
		"HBAR": {1.0, 1.1, 1.05, 1.2, 1.15, 1.3},
	}}
	svc := NewService(src, nil, testCfg())

	out, err := svc.Returns(context.Background(), "mainnet", []string{"hbar"}, 30)
	require.NoError(t, err)
	require.Len(t, out, 1)

	tr := out[0]
	assert.Equal(t, "HBAR", tr.Symbol)
	assert.Empty(t, tr.Error)
	assert.Equal(t, 5, tr.Points)
	assert.InDelta(t, 30.0, tr.CumulativePct, 1e-9)
	assert.Greater(t, tr.Volatility, 0.0)
	require.NotNil(t, tr.Sharpe)
	assert.Greater(t, *tr.Sharpe, 0.0)
	// 平均对数收益应与整段涨幅自洽。
	assert.InDelta(t, math.Log(1.3)/5, tr.MeanDaily, 1e-9)
}

func TestReturnsInsufficientPoints(t *testing.T) {
	src := &fakeSeries{closes: map[string][]float64{
		"SAUCE": {1.0, 1.1},
	}}
	svc := NewService(src, nil, testCfg())

	out, err := svc.Returns(context.Background(), "mainnet", []string{"SAUCE"}, 30)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Error, "数据点不足")
	assert.Nil(t, out[0].Sharpe)
}

func TestReturnsUnknownSymbolKeepsSiblings(t *testing.T) {
	src := &fakeSeries{closes: map[string][]float64{
		"HBAR": {1.0, 1.1, 1.2, 1.3, 1.4},
	}}
	svc := NewService(src, nil, testCfg())

	out, err := svc.Returns(context.Background(), "mainnet", []string{"HBAR", "NOPE"}, 30)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Empty(t, out[0].Error)
	assert.NotEmpty(t, out[1].Error)
}

func TestCorrelationPerfectlyCorrelated(t *testing.T) {
	// SAUCE 的收盘价是 HBAR 的两倍，对数收益完全一致。
	src := &fakeSeries{closes: map[string][]float64{
		"HBAR":  {1.0, 1.1, 1.05, 1.2, 1.15, 1.3},
		"SAUCE": {2.0, 2.2, 2.1, 2.4, 2.3, 2.6},
	}}
	svc := NewService(src, nil, testCfg())

	m, err := svc.Correlation(context.Background(), "mainnet", []string{"HBAR", "SAUCE"}, 30)
	require.NoError(t, err)
	require.Equal(t, []string{"HBAR", "SAUCE"}, m.Symbols)
	require.Len(t, m.Values, 2)
	assert.InDelta(t, 1.0, m.Values[0][0], 1e-9)
	assert.InDelta(t, 1.0, m.Values[1][1], 1e-9)
	assert.InDelta(t, 1.0, m.Values[0][1], 1e-6)
	assert.Equal(t, m.Values[0][1], m.Values[1][0])
}

func TestCorrelationDropsFailingSymbol(t *testing.T) {
	src := &fakeSeries{closes: map[string][]float64{
		"HBAR":  {1.0, 1.1, 1.05, 1.2, 1.15},
		"SAUCE": {2.0, 1.9, 2.1, 2.0, 2.2},
	}}
	svc := NewService(src, nil, testCfg())

	m, err := svc.Correlation(context.Background(), "mainnet", []string{"HBAR", "SAUCE", "NOPE"}, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"HBAR", "SAUCE"}, m.Symbols)
}

func TestCorrelationNeedsTwoSeries(t *testing.T) {
	src := &fakeSeries{closes: map[string][]float64{
		"HBAR": {1.0, 1.1, 1.05, 1.2},
	}}
	svc := NewService(src, nil, testCfg())

	_, err := svc.Correlation(context.Background(), "mainnet", []string{"HBAR", "NOPE"}, 30)
	assert.Error(t, err)
}
