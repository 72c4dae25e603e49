package bonzo

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
	"majorgainz/internal/pkg/circuit"
)

// Client wraps the Bonzo Finance data API (Hedera lending protocol).
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
}

// NewClient constructs a Bonzo client from configuration.
func NewClient(cfg config.BonzoConfig) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		breaker:    circuit.NewBreaker("bonzo", 5, 30*time.Second),
	}
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Reserve 某个资产池的借贷侧数据。
type Reserve struct {
	Symbol         string  `json:"symbol"`
	SupplyAPY      float64 `json:"supplyApy"`
	BorrowAPY      float64 `json:"borrowApy"`
	UtilizationPct float64 `json:"utilizationPct"`
	TotalSupplyUSD float64 `json:"totalSupplyUsd"`
}

// Position 账户在 Bonzo 的单笔存借仓位。
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // supplied | borrowed
	Amount     float64 `json:"amount"`
	USDValue   float64 `json:"usdValue"`
	APY        float64 `json:"apy"`
	Collateral bool    `json:"collateral"`
}

// Dashboard 账户借贷总览。HealthFactor 为 0 表示无借款。
type Dashboard struct {
	AccountID     string     `json:"accountId"`
	TotalSupplied float64    `json:"totalSuppliedUsd"`
	TotalBorrowed float64    `json:"totalBorrowedUsd"`
	HealthFactor  float64    `json:"healthFactor"`
	Positions     []Position `json:"positions"`
}

// AccountDashboard fetches supplied/borrowed positions and health for one account.
func (c *Client) AccountDashboard(ctx context.Context, accountID string) (Dashboard, error) {
	body, err := c.get(ctx, "/dashboard/"+url.PathEscape(strings.TrimSpace(accountID)))
	if err != nil {
		return Dashboard{}, err
	}
	doc := gjson.ParseBytes(body)
	dash := Dashboard{
		AccountID:     accountID,
		TotalSupplied: firstFloat(doc, "total_supplied_usd", "totalSuppliedUsd", "user_credit.total_supply.usd_display"),
		TotalBorrowed: firstFloat(doc, "total_borrowed_usd", "totalBorrowedUsd", "user_credit.total_debt.usd_display"),
		HealthFactor:  firstFloat(doc, "health_factor", "healthFactor", "user_credit.health_factor"),
	}
	doc.Get("reserves").ForEach(func(_, row gjson.Result) bool {
		supplied := firstFloat(row, "atoken_balance.usd_display", "supplied_usd")
		borrowed := firstFloat(row, "debt_balance.usd_display", "borrowed_usd")
		symbol := firstNonEmpty(row, "symbol", "token_symbol")
		if supplied > 0 {
			dash.Positions = append(dash.Positions, Position{
				Symbol:     symbol,
				Side:       "supplied",
				Amount:     firstFloat(row, "atoken_balance.display", "supplied_amount"),
				USDValue:   supplied,
				APY:        firstFloat(row, "supply_apy", "supplyApy"),
				Collateral: row.Get("use_as_collateral").Bool(),
			})
		}
		if borrowed > 0 {
			dash.Positions = append(dash.Positions, Position{
				Symbol:   symbol,
				Side:     "borrowed",
				Amount:   firstFloat(row, "debt_balance.display", "borrowed_amount"),
				USDValue: borrowed,
				APY:      firstFloat(row, "variable_borrow_apy", "borrowApy"),
			})
		}
		return true
	})
	return dash, nil
}

// Market fetches protocol-wide reserve stats (APY, utilization).
func (c *Client) Market(ctx context.Context) ([]Reserve, error) {
	body, err := c.get(ctx, "/market")
	if err != nil {
		return nil, err
	}
	var out []Reserve
	doc := gjson.ParseBytes(body)
	list := doc
	if doc.IsObject() {
		list = doc.Get("reserves")
	}
	list.ForEach(func(_, row gjson.Result) bool {
		out = append(out, Reserve{
			Symbol:         firstNonEmpty(row, "symbol", "token_symbol"),
			SupplyAPY:      firstFloat(row, "supply_apy", "supplyApy"),
			BorrowAPY:      firstFloat(row, "variable_borrow_apy", "borrowApy"),
			UtilizationPct: firstFloat(row, "utilization_rate", "utilizationPct"),
			TotalSupplyUSD: firstFloat(row, "total_supply.usd_display", "totalSupplyUsd"),
		})
		return true
	})
	return out, nil
}

func firstFloat(row gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		if v := row.Get(p); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

func firstNonEmpty(row gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := row.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("bonzo client 未初始化")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("bonzo 地址未配置")
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, fmt.Errorf("bonzo 熔断中，暂不发起请求")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("构造 bonzo 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("调用 bonzo 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			c.recordFailure()
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("bonzo 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("读取 bonzo 响应失败: %w", err)
	}
	return body, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}
