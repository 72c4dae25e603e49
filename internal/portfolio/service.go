package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/mirror"
	"majorgainz/internal/logger"
	"majorgainz/internal/store/gormstore"
)

// coinGeckoHbarID CoinGecko 上 HBAR 的 coin id。
const coinGeckoHbarID = "hedera-hashgraph"

// BalanceSource 提供链上余额与 token 元信息。
type BalanceSource interface {
	AccountBalance(ctx context.Context, network, accountID string) (mirror.AccountBalance, error)
	TokenInfo(ctx context.Context, network, tokenID string) (mirror.TokenInfo, error)
}

// SpotPriceSource 提供 coin id → USD 现价。
type SpotPriceSource interface {
	SimplePrice(ctx context.Context, ids []string) (map[string]float64, error)
}

// CandleSource 提供 token 最近一根日线，作为 token 定价来源。
type CandleSource interface {
	LatestCandle(ctx context.Context, tokenID string) (*gormstore.Candle, error)
}

// Holding 单项资产估值。
type Holding struct {
	Symbol   string  `json:"symbol"`
	TokenID  string  `json:"tokenId,omitempty"`
	Amount   float64 `json:"amount"`
	PriceUSD float64 `json:"priceUsd"`
	ValueUSD float64 `json:"valueUsd"`
	Percent  float64 `json:"percent"`
}

// Portfolio 账户资产组合快照。Warnings 记录定价降级等非致命问题。
type Portfolio struct {
	AccountID string    `json:"accountId"`
	Network   string    `json:"network"`
	TotalUSD  float64   `json:"totalUsd"`
	Holdings  []Holding `json:"holdings"`
	Warnings  []string  `json:"warnings,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Service 聚合 mirror 余额、K 线定价和 CoinGecko 兜底价构建组合视图。
type Service struct {
	balances BalanceSource
	spot     SpotPriceSource
	candles  CandleSource
	tokens   map[string]config.TokenRef
}

// NewService constructs the portfolio service.
func NewService(balances BalanceSource, spot SpotPriceSource, candles CandleSource, tokens map[string]config.TokenRef) *Service {
	return &Service{
		balances: balances,
		spot:     spot,
		candles:  candles,
		tokens:   tokens,
	}
}

// Build fetches balances and prices and assembles the USD valuation.
// mirror 失败视为致命错误；单个 token 的定价失败降级为 warning。
func (s *Service) Build(ctx context.Context, network, accountID string) (*Portfolio, error) {
	if s == nil || s.balances == nil {
		return nil, fmt.Errorf("portfolio service 未初始化")
	}
	if !mirror.ValidAccountID(accountID) {
		return nil, fmt.Errorf("账户 ID 格式错误: %q", accountID)
	}

	var (
		balance   mirror.AccountBalance
		hbarPrice float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.balances.AccountBalance(gctx, network, accountID)
		if err != nil {
			return fmt.Errorf("获取账户余额失败: %w", err)
		}
		balance = b
		return nil
	})
	g.Go(func() error {
		if s.spot == nil {
			return nil
		}
		prices, err := s.spot.SimplePrice(gctx, []string{coinGeckoHbarID})
		if err != nil {
			// HBAR 价格拿不到时组合仍可返回，估值退化为 0。
			logger.Warnf("portfolio: coingecko HBAR 价格获取失败: %v", err)
			return nil
		}
		hbarPrice = prices[coinGeckoHbarID]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Portfolio{
		AccountID: accountID,
		Network:   network,
		FetchedAt: time.Now(),
	}
	if hbarPrice <= 0 {
		p.Warnings = append(p.Warnings, "HBAR 现价不可用，HBAR 持仓按 0 估值")
	}
	hbarAmount, _ := balance.Hbar.Float64()
	p.Holdings = append(p.Holdings, Holding{
		Symbol:   "HBAR",
		Amount:   hbarAmount,
		PriceUSD: hbarPrice,
		ValueUSD: hbarAmount * hbarPrice,
	})

	for _, tb := range balance.Tokens {
		h, warn := s.valueToken(ctx, network, tb)
		if warn != "" {
			p.Warnings = append(p.Warnings, warn)
		}
		if h != nil {
			p.Holdings = append(p.Holdings, *h)
		}
	}

	for _, h := range p.Holdings {
		p.TotalUSD += h.ValueUSD
	}
	if p.TotalUSD > 0 {
		for i := range p.Holdings {
			p.Holdings[i].Percent = p.Holdings[i].ValueUSD / p.TotalUSD * 100
		}
	}
	sort.SliceStable(p.Holdings, func(i, j int) bool {
		return p.Holdings[i].ValueUSD > p.Holdings[j].ValueUSD
	})
	return p, nil
}

// valueToken 将单个 token 的原始余额换算为 USD。返回 nil 表示忽略该项。
func (s *Service) valueToken(ctx context.Context, network string, tb mirror.TokenBalance) (*Holding, string) {
	if tb.Raw <= 0 {
		return nil, ""
	}
	symbol := ""
	decimals := -1
	for key, ref := range s.tokens {
		if ref.ID == tb.TokenID {
			symbol = strings.ToUpper(key)
			decimals = ref.Decimals
			break
		}
	}
	if symbol == "" || decimals < 0 {
		info, err := s.balances.TokenInfo(ctx, network, tb.TokenID)
		if err != nil {
			return nil, fmt.Sprintf("token %s 元信息获取失败，已跳过", tb.TokenID)
		}
		symbol = info.Symbol
		decimals = info.Decimals
	}
	amount, _ := decimal.NewFromInt(tb.Raw).
		Div(decimal.New(1, int32(decimals))).
		Float64()

	price := 0.0
	warn := ""
	if s.candles != nil {
		latest, err := s.candles.LatestCandle(ctx, tb.TokenID)
		if err != nil {
			warn = fmt.Sprintf("token %s 定价查询失败，按 0 估值", symbol)
		} else if latest != nil {
			price = latest.Close
		} else {
			warn = fmt.Sprintf("token %s 无历史价格，按 0 估值", symbol)
		}
	}
	return &Holding{
		Symbol:   symbol,
		TokenID:  tb.TokenID,
		Amount:   amount,
		PriceUSD: price,
		ValueUSD: amount * price,
	}, warn
}
