package coingecko

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"majorgainz/internal/config"
)

// Client 访问 CoinGecko 公共行情接口，只用于兜底报价。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a CoinGecko client from configuration.
func NewClient(cfg config.CoinGeckoConfig) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SimplePrice 查询一组 coin id 的 USD 现价，返回 id → price。
// 缺失的 id 不出现在结果里，由调用方决定如何降级。
func (c *Client) SimplePrice(ctx context.Context, ids []string) (map[string]float64, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("coingecko client 未初始化")
	}
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	q := url.Values{
		"ids":           {strings.Join(ids, ",")},
		"vs_currencies": {"usd"},
	}
	endpoint := c.baseURL + "/simple/price?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造 coingecko 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 coingecko 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("coingecko 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取 coingecko 响应失败: %w", err)
	}
	prices := make(map[string]float64, len(ids))
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		usd := value.Get("usd")
		if usd.Exists() {
			prices[key.String()] = usd.Float()
		}
		return true
	})
	return prices, nil
}
