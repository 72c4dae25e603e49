package ohlcv

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/binance"
	"majorgainz/internal/gateway/saucerswap"
	"majorgainz/internal/store/gormstore"
)

type fakeStore struct {
	candles map[string][]gormstore.Candle
	saved   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{candles: make(map[string][]gormstore.Candle)}
}

func (f *fakeStore) SaveCandles(_ context.Context, candles []gormstore.Candle) error {
	for _, c := range candles {
		f.candles[c.TokenID] = append(f.candles[c.TokenID], c)
	}
	f.saved += len(candles)
	return nil
}

func (f *fakeStore) CandleRange(_ context.Context, tokenID string, from, to time.Time) ([]gormstore.Candle, error) {
	var out []gormstore.Candle
	for _, c := range f.candles[tokenID] {
		if c.Date.Before(from) || c.Date.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) LatestCandle(_ context.Context, tokenID string) (*gormstore.Candle, error) {
	rows := f.candles[tokenID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	for _, c := range rows[1:] {
		if c.Date.After(latest.Date) {
			latest = c
		}
	}
	return &latest, nil
}

type fakeDex struct {
	calls   int
	candles []saucerswap.Candle
	err     error
}

func (f *fakeDex) Candles(_ context.Context, _, _ string, _, _ time.Time, _ string) ([]saucerswap.Candle, error) {
	f.calls++
	return f.candles, f.err
}

type fakeSpot struct {
	calls   int
	candles []binance.Candle
	err     error
}

func (f *fakeSpot) FetchDaily(_ context.Context, _, _ time.Time) ([]binance.Candle, error) {
	f.calls++
	return f.candles, f.err
}

func testTokens() map[string]config.TokenRef {
	return map[string]config.TokenRef{
		"SAUCE": {ID: "0.0.731861", Decimals: 6},
	}
}

// seedDaily 往库里塞 n 根以今天为终点的连续日线。
func seedDaily(store *fakeStore, tokenID string, closes []float64) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	n := len(closes)
	for i, px := range closes {
		store.candles[tokenID] = append(store.candles[tokenID], gormstore.Candle{
			TokenID: tokenID,
			Symbol:  tokenID,
			Date:    today.AddDate(0, 0, i-n+1),
			Open:    px,
			High:    px,
			Low:     px,
			Close:   px,
			Source:  "saucerswap",
		})
	}
}

func TestSeriesCacheHitSkipsBackfill(t *testing.T) {
	store := newFakeStore()
	seedDaily(store, "0.0.731861", []float64{1.0, 1.1, 1.2})
	dex := &fakeDex{err: fmt.Errorf("should not be called")}

	svc := NewService(store, dex, nil, testTokens())
	candles, err := svc.Series(context.Background(), "mainnet", "sauce", 4)

	require.NoError(t, err)
	assert.Len(t, candles, 3)
	assert.Equal(t, 0, dex.calls)
}

func TestSeriesBackfillsFromDexOnMiss(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	dex := &fakeDex{candles: []saucerswap.Candle{
		{TimestampSec: now.AddDate(0, 0, -2).Unix(), Close: decimal.NewFromFloat(0.042)},
		{TimestampSec: now.AddDate(0, 0, -1).Unix(), Close: decimal.NewFromFloat(0.045)},
	}}

	svc := NewService(store, dex, nil, testTokens())
	candles, err := svc.Series(context.Background(), "mainnet", "SAUCE", 30)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1, dex.calls)
	assert.Equal(t, "saucerswap", candles[0].Source)
	assert.Equal(t, "0.0.731861", candles[0].TokenID)
	assert.InDelta(t, 0.045, candles[1].Close, 1e-9)
	assert.Equal(t, 2, store.saved)
}

func TestSeriesHBARBackfillsFromBinance(t *testing.T) {
	store := newFakeStore()
	dex := &fakeDex{err: fmt.Errorf("should not be called")}
	spot := &fakeSpot{candles: []binance.Candle{
		{OpenTime: time.Now().UTC().AddDate(0, 0, -1).UnixMilli(), Open: 0.08, High: 0.09, Low: 0.07, Close: 0.085},
	}}

	svc := NewService(store, dex, spot, testTokens())
	candles, err := svc.Series(context.Background(), "mainnet", "HBAR", 30)

	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1, spot.calls)
	assert.Equal(t, 0, dex.calls)
	assert.Equal(t, "binance", candles[0].Source)
	assert.Equal(t, "HBAR", candles[0].TokenID)
}

func TestSeriesHBARWithoutBinanceFails(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeDex{}, nil, testTokens())
	_, err := svc.Series(context.Background(), "mainnet", "HBAR", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance 回补未启用")
}

func TestSeriesUnknownSymbol(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeDex{}, nil, testTokens())
	_, err := svc.Series(context.Background(), "mainnet", "DOGE", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不支持的 token")
}

func TestSeriesBackfillFailureFallsBackToCache(t *testing.T) {
	store := newFakeStore()
	seedDaily(store, "0.0.731861", []float64{0.04})
	dex := &fakeDex{err: fmt.Errorf("upstream down")}

	svc := NewService(store, dex, nil, testTokens())
	candles, err := svc.Series(context.Background(), "mainnet", "SAUCE", 30)

	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, 1, dex.calls)
}

func TestSeriesStatsMoments(t *testing.T) {
	store := newFakeStore()
	seedDaily(store, "0.0.731861", []float64{100, 110, 121})

	svc := NewService(store, &fakeDex{}, nil, testTokens())
	stats, err := svc.SeriesStats(context.Background(), "mainnet", "SAUCE", 4)

	require.NoError(t, err)
	assert.Equal(t, "SAUCE", stats.Symbol)
	assert.Equal(t, 3, stats.Points)
	assert.InDelta(t, 121.0, stats.High, 1e-9)
	assert.InDelta(t, 100.0, stats.Low, 1e-9)
	assert.InDelta(t, 21.0, stats.ChangePct, 1e-9)
	// 两段 10% 涨幅，对数收益恒为 ln(1.1)，标准差为 0。
	assert.InDelta(t, math.Log(1.1), stats.MeanReturn, 1e-12)
	assert.InDelta(t, 0.0, stats.StdReturn, 1e-12)
}

func TestLatestFreshFromStore(t *testing.T) {
	store := newFakeStore()
	seedDaily(store, "0.0.731861", []float64{0.04, 0.05})
	dex := &fakeDex{err: fmt.Errorf("should not be called")}

	svc := NewService(store, dex, nil, testTokens())
	latest, err := svc.Latest(context.Background(), "mainnet", "SAUCE")

	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 0.05, latest.Close, 1e-9)
	assert.Equal(t, 0, dex.calls)
}

func TestLogReturnsSkipsNonPositiveCloses(t *testing.T) {
	candles := []gormstore.Candle{
		{Close: 10}, {Close: 0}, {Close: 12},
	}
	returns := LogReturns(candles)
	assert.Empty(t, returns)
}
