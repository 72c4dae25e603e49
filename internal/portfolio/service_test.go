package portfolio

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/mirror"
	"majorgainz/internal/store/gormstore"
)

type fakeBalances struct {
	balance mirror.AccountBalance
	err     error
	info    map[string]mirror.TokenInfo
}

func (f *fakeBalances) AccountBalance(_ context.Context, _, _ string) (mirror.AccountBalance, error) {
	return f.balance, f.err
}

func (f *fakeBalances) TokenInfo(_ context.Context, _, tokenID string) (mirror.TokenInfo, error) {
	info, ok := f.info[tokenID]
	if !ok {
		return mirror.TokenInfo{}, fmt.Errorf("unknown token %s", tokenID)
	}
	return info, nil
}

type fakeSpot struct {
	prices map[string]float64
	err    error
}

func (f *fakeSpot) SimplePrice(_ context.Context, _ []string) (map[string]float64, error) {
	return f.prices, f.err
}

type fakeCandles struct {
	latest map[string]*gormstore.Candle
}

func (f *fakeCandles) LatestCandle(_ context.Context, tokenID string) (*gormstore.Candle, error) {
	return f.latest[tokenID], nil
}

func testTokens() map[string]config.TokenRef {
	return map[string]config.TokenRef{
		"SAUCE": {ID: "0.0.731861", Decimals: 6},
	}
}

func TestBuildValuesHbarAndTokens(t *testing.T) {
	balances := &fakeBalances{balance: mirror.AccountBalance{
		Hbar: decimal.NewFromInt(100),
		Tokens: []mirror.TokenBalance{
			{TokenID: "0.0.731861", Raw: 2_000_000}, // 2 SAUCE
		},
	}}
	spot := &fakeSpot{prices: map[string]float64{"hedera-hashgraph": 0.08}}
	candles := &fakeCandles{latest: map[string]*gormstore.Candle{
		"0.0.731861": {TokenID: "0.0.731861", Close: 0.05},
	}}

	svc := NewService(balances, spot, candles, testTokens())
	p, err := svc.Build(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	assert.InDelta(t, 100*0.08+2*0.05, p.TotalUSD, 1e-9)
	require.Len(t, p.Holdings, 2)
	// 按估值降序，HBAR 在前。
	assert.Equal(t, "HBAR", p.Holdings[0].Symbol)
	assert.InDelta(t, 8.0, p.Holdings[0].ValueUSD, 1e-9)
	assert.Equal(t, "SAUCE", p.Holdings[1].Symbol)
	assert.InDelta(t, 2.0, p.Holdings[1].Amount, 1e-9)
	assert.InDelta(t, 100*0.08/p.TotalUSD*100, p.Holdings[0].Percent, 1e-9)
	assert.Empty(t, p.Warnings)
}

func TestBuildMirrorFailureIsFatal(t *testing.T) {
	balances := &fakeBalances{err: fmt.Errorf("mirror down")}
	svc := NewService(balances, &fakeSpot{}, &fakeCandles{}, testTokens())

	_, err := svc.Build(context.Background(), "mainnet", "0.0.12345")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "获取账户余额失败")
}

func TestBuildPriceFailureDegrades(t *testing.T) {
	balances := &fakeBalances{balance: mirror.AccountBalance{Hbar: decimal.NewFromInt(50)}}
	spot := &fakeSpot{err: fmt.Errorf("coingecko down")}

	svc := NewService(balances, spot, &fakeCandles{}, testTokens())
	p, err := svc.Build(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	assert.Zero(t, p.TotalUSD)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "HBAR 现价不可用")
}

func TestBuildUnknownTokenFallsBackToMirrorInfo(t *testing.T) {
	balances := &fakeBalances{
		balance: mirror.AccountBalance{
			Hbar:   decimal.Zero,
			Tokens: []mirror.TokenBalance{{TokenID: "0.0.999", Raw: 500_000_000}},
		},
		info: map[string]mirror.TokenInfo{
			"0.0.999": {TokenID: "0.0.999", Symbol: "XYZ", Decimals: 8},
		},
	}
	spot := &fakeSpot{prices: map[string]float64{"hedera-hashgraph": 0.08}}
	candles := &fakeCandles{latest: map[string]*gormstore.Candle{
		"0.0.999": {TokenID: "0.0.999", Close: 2.0},
	}}

	svc := NewService(balances, spot, candles, testTokens())
	p, err := svc.Build(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	require.Len(t, p.Holdings, 2)
	assert.Equal(t, "XYZ", p.Holdings[0].Symbol)
	assert.InDelta(t, 5.0, p.Holdings[0].Amount, 1e-9)
	assert.InDelta(t, 10.0, p.Holdings[0].ValueUSD, 1e-9)
}

func TestBuildTokenWithoutPriceWarns(t *testing.T) {
	balances := &fakeBalances{balance: mirror.AccountBalance{
		Hbar:   decimal.NewFromInt(1),
		Tokens: []mirror.TokenBalance{{TokenID: "0.0.731861", Raw: 1_000_000}},
	}}
	spot := &fakeSpot{prices: map[string]float64{"hedera-hashgraph": 0.08}}

	svc := NewService(balances, spot, &fakeCandles{}, testTokens())
	p, err := svc.Build(context.Background(), "mainnet", "0.0.12345")

	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "无历史价格")
}

func TestBuildRejectsBadAccountID(t *testing.T) {
	svc := NewService(&fakeBalances{}, &fakeSpot{}, &fakeCandles{}, testTokens())
	_, err := svc.Build(context.Background(), "mainnet", "walletname")
	require.Error(t, err)
}
