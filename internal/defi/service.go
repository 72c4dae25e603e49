package defi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/gateway/mirror"
	"majorgainz/internal/gateway/saucerswap"
	"majorgainz/internal/logger"
)

// DexSource 提供 DEX 流动性仓位。
type DexSource interface {
	AccountPositions(ctx context.Context, network, accountID string) ([]saucerswap.PoolPosition, error)
}

// LendingSource 提供借贷仓位与市场数据。
type LendingSource interface {
	AccountDashboard(ctx context.Context, accountID string) (bonzo.Dashboard, error)
	Market(ctx context.Context) ([]bonzo.Reserve, error)
}

// Profile 账户 DeFi 全景。
type Profile struct {
	AccountID        string                    `json:"accountId"`
	Network          string                    `json:"network"`
	TotalValueLocked float64                   `json:"totalValueLocked"`
	PositionCount    int                       `json:"positionCount"`
	SaucerSwap       []saucerswap.PoolPosition `json:"saucerswap,omitempty"`
	Bonzo            *bonzo.Dashboard          `json:"bonzo,omitempty"`
	RiskFlags        []string                  `json:"riskFlags,omitempty"`
	Warnings         []string                  `json:"warnings,omitempty"`
	FetchedAt        time.Time                 `json:"fetchedAt"`
}

// Service 并行聚合 SaucerSwap 与 Bonzo 仓位并做风险标注。
type Service struct {
	dex     DexSource
	lending LendingSource
	cfg     config.AnalyticsConfig
}

// NewService constructs the DeFi profile service.
func NewService(dex DexSource, lending LendingSource, cfg config.AnalyticsConfig) *Service {
	return &Service{dex: dex, lending: lending, cfg: cfg}
}

// Profile fetches both protocols in parallel. 单侧失败降级为 warning，
// 两侧都失败才返回错误。
func (s *Service) Profile(ctx context.Context, network, accountID string) (*Profile, error) {
	if s == nil {
		return nil, fmt.Errorf("defi service 未初始化")
	}
	if !mirror.ValidAccountID(accountID) {
		return nil, fmt.Errorf("账户 ID 格式错误: %q", accountID)
	}

	p := &Profile{AccountID: accountID, Network: network, FetchedAt: time.Now()}
	var (
		dexErr     error
		lendingErr error
		reserves   []bonzo.Reserve
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.dex == nil {
			return nil
		}
		positions, err := s.dex.AccountPositions(gctx, network, accountID)
		if err != nil {
			dexErr = err
			return nil
		}
		p.SaucerSwap = positions
		return nil
	})
	g.Go(func() error {
		if s.lending == nil {
			return nil
		}
		dash, err := s.lending.AccountDashboard(gctx, accountID)
		if err != nil {
			lendingErr = err
			return nil
		}
		p.Bonzo = &dash
		return nil
	})
	g.Go(func() error {
		if s.lending == nil {
			return nil
		}
		rs, err := s.lending.Market(gctx)
		if err != nil {
			// 市场数据只影响利用率风险标注，失败不降级整体结果。
			logger.Debugf("defi: bonzo market 获取失败: %v", err)
			return nil
		}
		reserves = rs
		return nil
	})
	_ = g.Wait()

	if dexErr != nil && lendingErr != nil {
		return nil, fmt.Errorf("DeFi 数据全部不可用: saucerswap=%v; bonzo=%v", dexErr, lendingErr)
	}
	if dexErr != nil {
		p.Warnings = append(p.Warnings, fmt.Sprintf("saucerswap 仓位获取失败: %v", dexErr))
	}
	if lendingErr != nil {
		p.Warnings = append(p.Warnings, fmt.Sprintf("bonzo 仓位获取失败: %v", lendingErr))
	}

	for _, pos := range p.SaucerSwap {
		p.TotalValueLocked += pos.USDValue
		p.PositionCount++
	}
	if p.Bonzo != nil {
		p.TotalValueLocked += p.Bonzo.TotalSupplied
		p.PositionCount += len(p.Bonzo.Positions)
	}
	p.RiskFlags = s.riskFlags(p, reserves)
	return p, nil
}

// riskFlags 按配置阈值标注风险：低流动性池、高利用率资产、健康因子过低。
func (s *Service) riskFlags(p *Profile, reserves []bonzo.Reserve) []string {
	var flags []string
	for _, pos := range p.SaucerSwap {
		if pos.Liquidity > 0 && pos.Liquidity < s.cfg.LowLiquidityUSD {
			flags = append(flags, fmt.Sprintf("low-liquidity:%s/%s", pos.TokenA, pos.TokenB))
		}
	}
	if p.Bonzo != nil {
		if p.Bonzo.HealthFactor > 0 && p.Bonzo.HealthFactor < s.cfg.UnhealthyHealthFactor {
			flags = append(flags, fmt.Sprintf("unhealthy-position:hf=%.2f", p.Bonzo.HealthFactor))
		}
		utilization := make(map[string]float64, len(reserves))
		for _, r := range reserves {
			utilization[r.Symbol] = r.UtilizationPct
		}
		for _, pos := range p.Bonzo.Positions {
			if u, ok := utilization[pos.Symbol]; ok && u > s.cfg.HighUtilizationPct {
				flags = append(flags, fmt.Sprintf("high-utilization:%s", pos.Symbol))
			}
		}
	}
	return flags
}
