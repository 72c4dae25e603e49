package ohlcv

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"majorgainz/internal/config"
	"majorgainz/internal/gateway/binance"
	"majorgainz/internal/gateway/saucerswap"
	"majorgainz/internal/logger"
	"majorgainz/internal/store/gormstore"
)

// hbarSymbol HBAR 走 Binance 回补，其余 token 走 SaucerSwap。
const hbarSymbol = "HBAR"

// CandleStore 日线落库与查询。
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []gormstore.Candle) error
	CandleRange(ctx context.Context, tokenID string, from, to time.Time) ([]gormstore.Candle, error)
	LatestCandle(ctx context.Context, tokenID string) (*gormstore.Candle, error)
}

// DexCandleSource SaucerSwap token K 线来源。
type DexCandleSource interface {
	Candles(ctx context.Context, network, tokenID string, from, to time.Time, interval string) ([]saucerswap.Candle, error)
}

// SpotCandleSource Binance 现货日线来源（HBAR/USDT）。
type SpotCandleSource interface {
	FetchDaily(ctx context.Context, from, to time.Time) ([]binance.Candle, error)
}

// Stats 一段区间的价格统计。
type Stats struct {
	Symbol     string  `json:"symbol"`
	Days       int     `json:"days"`
	Points     int     `json:"points"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	First      float64 `json:"first"`
	Last       float64 `json:"last"`
	ChangePct  float64 `json:"changePct"`
	MeanReturn float64 `json:"meanReturn"`
	StdReturn  float64 `json:"stdReturn"`
}

// Service 先查库，缺数据时从上游回补后再返回。
type Service struct {
	store  CandleStore
	dex    DexCandleSource
	spot   SpotCandleSource
	tokens map[string]config.TokenRef
}

// NewService constructs the OHLCV service.
func NewService(store CandleStore, dex DexCandleSource, spot SpotCandleSource, tokens map[string]config.TokenRef) *Service {
	return &Service{store: store, dex: dex, spot: spot, tokens: tokens}
}

// resolveTokenID 符号 → 存储键。HBAR 使用符号本身作为键。
func (s *Service) resolveTokenID(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return "", fmt.Errorf("token symbol 不能为空")
	}
	if sym == hbarSymbol {
		return hbarSymbol, nil
	}
	for key, ref := range s.tokens {
		if strings.EqualFold(key, sym) && ref.ID != "" {
			return ref.ID, nil
		}
	}
	return "", fmt.Errorf("不支持的 token: %s", sym)
}

// Series returns daily candles for the last `days` days, backfilling on miss.
func (s *Service) Series(ctx context.Context, network, symbol string, days int) ([]gormstore.Candle, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("ohlcv service 未初始化")
	}
	if days <= 0 {
		days = 90
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	tokenID, err := s.resolveTokenID(sym)
	if err != nil {
		return nil, err
	}
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -days)

	cached, err := s.store.CandleRange(ctx, tokenID, from, to)
	if err != nil {
		return nil, err
	}
	// 近似覆盖判断：缺口超过两天则回补。上游偶有缺日，不追求逐日对齐。
	if len(cached) >= days-2 {
		return cached, nil
	}

	fresh, err := s.backfill(ctx, network, sym, tokenID, from, to)
	if err != nil {
		if len(cached) > 0 {
			logger.Warnf("ohlcv: %s 回补失败，返回库内 %d 条: %v", sym, len(cached), err)
			return cached, nil
		}
		return nil, err
	}
	if err := s.store.SaveCandles(ctx, fresh); err != nil {
		logger.Warnf("ohlcv: %s 落库失败: %v", sym, err)
	}
	return s.store.CandleRange(ctx, tokenID, from, to)
}

// Latest returns the newest candle for a symbol, backfilling when empty.
func (s *Service) Latest(ctx context.Context, network, symbol string) (*gormstore.Candle, error) {
	tokenID, err := s.resolveTokenID(symbol)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestCandle(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if latest != nil && time.Since(latest.Date) < 48*time.Hour {
		return latest, nil
	}
	if _, err := s.Series(ctx, network, symbol, 7); err != nil {
		if latest != nil {
			return latest, nil
		}
		return nil, err
	}
	return s.store.LatestCandle(ctx, tokenID)
}

// SeriesStats computes range stats and daily log-return moments.
func (s *Service) SeriesStats(ctx context.Context, network, symbol string, days int) (*Stats, error) {
	candles, err := s.Series(ctx, network, symbol, days)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s 无可用历史数据", symbol)
	}
	st := &Stats{
		Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		Days:   days,
		Points: len(candles),
		High:   candles[0].High,
		Low:    candles[0].Low,
		First:  candles[0].Close,
		Last:   candles[len(candles)-1].Close,
	}
	for _, c := range candles {
		if c.High > st.High {
			st.High = c.High
		}
		if c.Low < st.Low {
			st.Low = c.Low
		}
	}
	if st.First > 0 {
		st.ChangePct = (st.Last - st.First) / st.First * 100
	}
	returns := LogReturns(candles)
	st.MeanReturn, st.StdReturn = moments(returns)
	return st, nil
}

// LogReturns 相邻收盘价的对数收益序列。
func LogReturns(candles []gormstore.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

func moments(returns []float64) (mean, std float64) {
	n := len(returns)
	if n == 0 {
		return 0, 0
	}
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

func (s *Service) backfill(ctx context.Context, network, symbol, tokenID string, from, to time.Time) ([]gormstore.Candle, error) {
	if symbol == hbarSymbol {
		if s.spot == nil {
			return nil, fmt.Errorf("binance 回补未启用")
		}
		raw, err := s.spot.FetchDaily(ctx, from, to)
		if err != nil {
			return nil, err
		}
		out := make([]gormstore.Candle, 0, len(raw))
		for _, c := range raw {
			out = append(out, gormstore.Candle{
				TokenID: hbarSymbol,
				Symbol:  hbarSymbol,
				Date:    time.UnixMilli(c.OpenTime).UTC().Truncate(24 * time.Hour),
				Open:    c.Open,
				High:    c.High,
				Low:     c.Low,
				Close:   c.Close,
				Volume:  c.Volume,
				Source:  "binance",
			})
		}
		return out, nil
	}
	if s.dex == nil {
		return nil, fmt.Errorf("saucerswap 回补未配置")
	}
	raw, err := s.dex.Candles(ctx, network, tokenID, from, to, "DAY")
	if err != nil {
		return nil, err
	}
	out := make([]gormstore.Candle, 0, len(raw))
	for _, c := range raw {
		open, _ := c.Open.Float64()
		high, _ := c.High.Float64()
		low, _ := c.Low.Float64()
		closePx, _ := c.Close.Float64()
		volume, _ := c.Volume.Float64()
		out = append(out, gormstore.Candle{
			TokenID: tokenID,
			Symbol:  symbol,
			Date:    time.Unix(c.TimestampSec, 0).UTC().Truncate(24 * time.Hour),
			Open:    open,
			High:    high,
			Low:     low,
			Close:   closePx,
			Volume:  volume,
			Source:  "saucerswap",
		})
	}
	return out, nil
}
