package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"

	"majorgainz/internal/config"
	"majorgainz/internal/logger"
	"majorgainz/internal/ohlcv"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

// SeriesSource 提供日线序列，通常由 ohlcv.Service 实现。
type SeriesSource interface {
	Series(ctx context.Context, network, symbol string, days int) ([]gormstore.Candle, error)
}

// HoldingsSource 提供账户持仓符号，用于按组合做批量分析。
type HoldingsSource interface {
	Build(ctx context.Context, network, accountID string) (*portfolio.Portfolio, error)
}

// TokenReturns 单个 token 的收益/风险指标。年化按交易日配置折算。
type TokenReturns struct {
	Symbol        string   `json:"symbol"`
	Days          int      `json:"days"`
	Points        int      `json:"points"`
	CumulativePct float64  `json:"cumulativePct"`
	MeanDaily     float64  `json:"meanDaily"`
	Volatility    float64  `json:"volatility"`
	Sharpe        *float64 `json:"sharpe,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Matrix token 间对数收益的相关性矩阵。
type Matrix struct {
	Symbols []string    `json:"symbols"`
	Days    int         `json:"days"`
	Points  int         `json:"points"`
	Values  [][]float64 `json:"values"`
}

// Service 基于日线序列计算收益、波动与相关性。
type Service struct {
	series   SeriesSource
	holdings HoldingsSource
	cfg      config.AnalyticsConfig
}

// NewService constructs the analytics service.
func NewService(series SeriesSource, holdings HoldingsSource, cfg config.AnalyticsConfig) *Service {
	return &Service{series: series, holdings: holdings, cfg: cfg}
}

func (s *Service) days(requested int) int {
	if requested > 0 {
		return requested
	}
	if s.cfg.DefaultDays > 0 {
		return s.cfg.DefaultDays
	}
	return 90
}

// Returns computes per-token metrics. 单个 token 失败只填充 Error 字段。
func (s *Service) Returns(ctx context.Context, network string, symbols []string, days int) ([]TokenReturns, error) {
	if s == nil || s.series == nil {
		return nil, fmt.Errorf("analytics service 未初始化")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbols 不能为空")
	}
	days = s.days(days)
	out := make([]TokenReturns, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, s.tokenReturns(ctx, network, sym, days))
	}
	return out, nil
}

// PortfolioReturns resolves the account's holdings then computes metrics.
func (s *Service) PortfolioReturns(ctx context.Context, network, accountID string, days int) ([]TokenReturns, error) {
	symbols, err := s.portfolioSymbols(ctx, network, accountID)
	if err != nil {
		return nil, err
	}
	return s.Returns(ctx, network, symbols, days)
}

// Correlation builds the pairwise log-return correlation matrix.
func (s *Service) Correlation(ctx context.Context, network string, symbols []string, days int) (*Matrix, error) {
	if s == nil || s.series == nil {
		return nil, fmt.Errorf("analytics service 未初始化")
	}
	if len(symbols) < 2 {
		return nil, fmt.Errorf("相关性分析至少需要两个 token")
	}
	days = s.days(days)

	type dated struct {
		symbol string
		byDate map[int64]float64
	}
	var series []dated
	for _, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		candles, err := s.series.Series(ctx, network, sym, days)
		if err != nil {
			logger.Warnf("analytics: %s 序列获取失败，相关性矩阵剔除该 token: %v", sym, err)
			continue
		}
		byDate := make(map[int64]float64, len(candles))
		for _, c := range candles {
			if c.Close > 0 {
				byDate[c.Date.Unix()] = c.Close
			}
		}
		series = append(series, dated{symbol: sym, byDate: byDate})
	}
	if len(series) < 2 {
		return nil, fmt.Errorf("可用序列不足，无法计算相关性")
	}

	// 对齐所有 token 共有的交易日，再取对数收益。
	var common []int64
	for date := range series[0].byDate {
		shared := true
		for _, sr := range series[1:] {
			if _, ok := sr.byDate[date]; !ok {
				shared = false
				break
			}
		}
		if shared {
			common = append(common, date)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	minPoints := s.cfg.MinPoints
	if minPoints < 2 {
		minPoints = 2
	}
	if len(common) < minPoints+1 {
		return nil, fmt.Errorf("共同交易日不足: %d", len(common))
	}

	returns := make([][]float64, len(series))
	for i, sr := range series {
		rs := make([]float64, 0, len(common)-1)
		for j := 1; j < len(common); j++ {
			prev := sr.byDate[common[j-1]]
			cur := sr.byDate[common[j]]
			rs = append(rs, math.Log(cur/prev))
		}
		returns[i] = rs
	}

	n := len(series)
	m := &Matrix{Days: days, Points: len(common)}
	m.Values = make([][]float64, n)
	for i := 0; i < n; i++ {
		m.Symbols = append(m.Symbols, series[i].symbol)
		m.Values[i] = make([]float64, n)
		m.Values[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := lastValue(talib.Correl(returns[i], returns[j], len(returns[i])))
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			m.Values[i][j] = c
			m.Values[j][i] = c
		}
	}
	return m, nil
}

// PortfolioCorrelation resolves holdings then builds the matrix.
func (s *Service) PortfolioCorrelation(ctx context.Context, network, accountID string, days int) (*Matrix, error) {
	symbols, err := s.portfolioSymbols(ctx, network, accountID)
	if err != nil {
		return nil, err
	}
	return s.Correlation(ctx, network, symbols, days)
}

func (s *Service) tokenReturns(ctx context.Context, network, rawSymbol string, days int) TokenReturns {
	sym := strings.ToUpper(strings.TrimSpace(rawSymbol))
	tr := TokenReturns{Symbol: sym, Days: days}
	candles, err := s.series.Series(ctx, network, sym, days)
	if err != nil {
		tr.Error = err.Error()
		return tr
	}
	returns := ohlcv.LogReturns(candles)
	tr.Points = len(returns)
	minPoints := s.cfg.MinPoints
	if minPoints < 2 {
		minPoints = 2
	}
	if len(returns) < minPoints {
		tr.Error = fmt.Sprintf("数据点不足: %d", len(returns))
		return tr
	}

	first, last := candles[0].Close, candles[len(candles)-1].Close
	if first > 0 {
		tr.CumulativePct = (last - first) / first * 100
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	tr.MeanDaily = sum / float64(len(returns))

	std := lastValue(talib.StdDev(returns, len(returns), 1))
	annual := float64(s.cfg.AnnualizationDays)
	if annual <= 0 {
		annual = 365
	}
	tr.Volatility = std * math.Sqrt(annual)
	if std > 0 {
		sharpe := tr.MeanDaily / std * math.Sqrt(annual)
		tr.Sharpe = &sharpe
	}
	return tr
}

func (s *Service) portfolioSymbols(ctx context.Context, network, accountID string) ([]string, error) {
	if s.holdings == nil {
		return nil, fmt.Errorf("analytics: 组合数据源未配置")
	}
	p, err := s.holdings.Build(ctx, network, accountID)
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, h := range p.Holdings {
		if h.Symbol != "" {
			symbols = append(symbols, h.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("账户 %s 没有可分析的持仓", accountID)
	}
	return symbols, nil
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
