package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"majorgainz/internal/config"
)

const maxHistoryLimit = 1000

// Candle 一根已收盘的现货日线。
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Trades    int64
}

// Source backfills HBAR/USDT daily candles from Binance spot REST.
// 只做历史回补，不订阅实时流。
type Source struct {
	symbol string
	client *binance.Client
}

// New constructs a Source from configuration.
func New(cfg config.BinanceConfig) (*Source, error) {
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("binance.symbol 不能为空")
	}
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	return &Source{symbol: symbol, client: client}, nil
}

// Symbol returns the configured trading pair.
func (s *Source) Symbol() string {
	return s.symbol
}

// FetchDaily fetches closed daily candles in [from, to].
func (s *Source) FetchDaily(ctx context.Context, from, to time.Time) ([]Candle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source 未初始化")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("时间区间无效: from=%s to=%s", from, to)
	}
	svc := s.client.NewKlinesService().
		Symbol(s.symbol).
		Interval("1d").
		StartTime(from.UnixMilli()).
		EndTime(to.UnixMilli()).
		Limit(maxHistoryLimit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("拉取 binance K 线失败: %w", err)
	}
	now := time.Now().UnixMilli()
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		// 未收盘的当日 K 线丢弃，避免半根蜡烛进库。
		if kl.CloseTime > now {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
