package saucerswap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"majorgainz/internal/config"
	"majorgainz/internal/pkg/circuit"
)

// Client wraps the SaucerSwap REST API (DEX pools, farms and token candles).
type Client struct {
	mainnetBase string
	testnetBase string
	apiKey      string
	httpClient  *http.Client
	breaker     *circuit.Breaker
}

// NewClient constructs a SaucerSwap client from configuration.
func NewClient(cfg config.SaucerConfig) *Client {
	return &Client{
		mainnetBase: strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		testnetBase: strings.TrimSuffix(strings.TrimSpace(cfg.TestnetURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		breaker:     circuit.NewBreaker("saucerswap", 5, 30*time.Second),
	}
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) base(network string) string {
	if strings.EqualFold(strings.TrimSpace(network), "testnet") && c.testnetBase != "" {
		return c.testnetBase
	}
	return c.mainnetBase
}

// Candle 一根日线。open/close 等为 USD 价（接口按 token decimals 已换算前的
// 定点字符串返回，这里保留 decimal 精度）。
type Candle struct {
	TimestampSec int64
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       decimal.Decimal
	Liquidity    decimal.Decimal
}

// Candles fetches USD price candles for a token over [from, to].
func (c *Client) Candles(ctx context.Context, network, tokenID string, from, to time.Time, interval string) ([]Candle, error) {
	if interval == "" {
		interval = "DAY"
	}
	q := url.Values{
		"from":     {strconv.FormatInt(from.Unix(), 10)},
		"to":       {strconv.FormatInt(to.Unix(), 10)},
		"interval": {interval},
	}
	body, err := c.get(ctx, network, "/tokens/prices/"+url.PathEscape(tokenID), q)
	if err != nil {
		return nil, err
	}
	var out []Candle
	gjson.ParseBytes(body).ForEach(func(_, row gjson.Result) bool {
		out = append(out, Candle{
			TimestampSec: row.Get("timestampSeconds").Int(),
			Open:         decimalField(row, "openUsd", "open"),
			High:         decimalField(row, "highUsd", "high"),
			Low:          decimalField(row, "lowUsd", "low"),
			Close:        decimalField(row, "closeUsd", "close"),
			Volume:       decimalField(row, "volumeUsd", "volume"),
			Liquidity:    decimalField(row, "liquidityUsd", "liquidity"),
		})
		return true
	})
	return out, nil
}

// decimalField 依次尝试多个字段名，接口不同版本命名不一致。
func decimalField(row gjson.Result, names ...string) decimal.Decimal {
	for _, name := range names {
		v := row.Get(name)
		if !v.Exists() {
			continue
		}
		if d, err := decimal.NewFromString(strings.TrimSpace(v.String())); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// PoolPosition 账户在某个流动性池中的仓位。
type PoolPosition struct {
	PoolID    string  `json:"poolId"`
	TokenA    string  `json:"tokenA"`
	TokenB    string  `json:"tokenB"`
	LPShares  float64 `json:"lpShares"`
	USDValue  float64 `json:"usdValue"`
	InFarm    bool    `json:"inFarm"`
	FarmAPY   float64 `json:"farmApy,omitempty"`
	Liquidity float64 `json:"liquidityUsd"`
}

// AccountPositions fetches LP and farm positions for one account.
func (c *Client) AccountPositions(ctx context.Context, network, accountID string) ([]PoolPosition, error) {
	body, err := c.get(ctx, network, "/v2/accounts/"+url.PathEscape(accountID)+"/positions", nil)
	if err != nil {
		return nil, err
	}
	var out []PoolPosition
	doc := gjson.ParseBytes(body)
	list := doc
	if doc.IsObject() {
		list = doc.Get("positions")
	}
	list.ForEach(func(_, row gjson.Result) bool {
		pos := PoolPosition{
			PoolID:    row.Get("poolId").String(),
			TokenA:    firstString(row, "tokenA.symbol", "tokenA"),
			TokenB:    firstString(row, "tokenB.symbol", "tokenB"),
			LPShares:  row.Get("lpTokenBalance").Float(),
			USDValue:  row.Get("usdValue").Float(),
			InFarm:    row.Get("inFarm").Bool(),
			FarmAPY:   row.Get("farmApy").Float(),
			Liquidity: row.Get("pool.liquidityUsd").Float(),
		}
		if pos.PoolID == "" {
			pos.PoolID = row.Get("pool.id").String()
		}
		out = append(out, pos)
		return true
	})
	return out, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func firstString(row gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := row.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, network, path string, query url.Values) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("saucerswap client 未初始化")
	}
	base := c.base(network)
	if base == "" {
		return nil, fmt.Errorf("saucerswap 地址未配置")
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, fmt.Errorf("saucerswap 熔断中，暂不发起请求")
	}
	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造 saucerswap 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("调用 saucerswap 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			c.recordFailure()
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("saucerswap 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("读取 saucerswap 响应失败: %w", err)
	}
	return body, nil
}
