package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"majorgainz/internal/config"
	"majorgainz/internal/logger"
)

// Client wraps the Hedera mirror node REST API used by the dashboard.
type Client struct {
	mainnetBase string
	testnetBase string
	httpClient  *http.Client
}

// tinybarPerHbar HBAR 链上以 tinybar 计价。
var tinybarPerHbar = decimal.NewFromInt(100_000_000)

var accountIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidAccountID reports whether s looks like a shard.realm.num Hedera account id.
func ValidAccountID(s string) bool {
	return accountIDPattern.MatchString(strings.TrimSpace(s))
}

// NewClient constructs a mirror node client from configuration.
func NewClient(cfg config.HederaConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		mainnetBase: strings.TrimSuffix(strings.TrimSpace(cfg.MirrorMainnet), "/"),
		testnetBase: strings.TrimSuffix(strings.TrimSpace(cfg.MirrorTestnet), "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) base(network string) string {
	if strings.EqualFold(strings.TrimSpace(network), "testnet") {
		return c.testnetBase
	}
	return c.mainnetBase
}

// TokenBalance 账户持有的某个 HTS token 的原始余额（未按 decimals 换算）。
type TokenBalance struct {
	TokenID string
	Raw     int64
}

// AccountBalance holds the raw on-chain balances for one account.
type AccountBalance struct {
	AccountID string
	Hbar      decimal.Decimal
	Tokens    []TokenBalance
	FetchedAt time.Time
}

// AccountBalance fetches HBAR and token balances for an account.
// 先走 /accounts/{id}/balances；部分镜像节点版本对该路径返回 404，
// 此时回退到 /balances?account.id= 查询。
func (c *Client) AccountBalance(ctx context.Context, network, accountID string) (AccountBalance, error) {
	if c == nil || c.httpClient == nil {
		return AccountBalance{}, fmt.Errorf("mirror client 未初始化")
	}
	id := strings.TrimSpace(accountID)
	if !ValidAccountID(id) {
		return AccountBalance{}, fmt.Errorf("账户 ID 格式错误: %q", accountID)
	}
	body, status, err := c.get(ctx, network, "/accounts/"+id+"/balances", nil)
	if err != nil {
		return AccountBalance{}, err
	}
	if status == http.StatusNotFound {
		logger.Debugf("mirror: /accounts/%s/balances 404，回退到 /balances", id)
		body, status, err = c.get(ctx, network, "/balances", url.Values{"account.id": {id}})
		if err != nil {
			return AccountBalance{}, err
		}
	}
	if status != http.StatusOK {
		return AccountBalance{}, fmt.Errorf("mirror 返回错误状态 %d (account %s)", status, id)
	}

	entry := gjson.GetBytes(body, "balances.0")
	if !entry.Exists() {
		// 账户存在但从未持仓时 balances 可能为空数组。
		return AccountBalance{AccountID: id, Hbar: decimal.Zero, FetchedAt: time.Now()}, nil
	}
	out := AccountBalance{AccountID: id, FetchedAt: time.Now()}
	out.Hbar = decimal.NewFromInt(entry.Get("balance").Int()).Div(tinybarPerHbar)
	entry.Get("tokens").ForEach(func(_, tok gjson.Result) bool {
		tid := tok.Get("token_id").String()
		if tid == "" {
			return true
		}
		out.Tokens = append(out.Tokens, TokenBalance{TokenID: tid, Raw: tok.Get("balance").Int()})
		return true
	})
	return out, nil
}

// TokenInfo 描述 HTS token 的元信息。
type TokenInfo struct {
	TokenID  string
	Symbol   string
	Name     string
	Decimals int
}

// TokenInfo fetches symbol, name and decimals for a token id.
func (c *Client) TokenInfo(ctx context.Context, network, tokenID string) (TokenInfo, error) {
	if c == nil || c.httpClient == nil {
		return TokenInfo{}, fmt.Errorf("mirror client 未初始化")
	}
	id := strings.TrimSpace(tokenID)
	if !ValidAccountID(id) {
		return TokenInfo{}, fmt.Errorf("token ID 格式错误: %q", tokenID)
	}
	body, status, err := c.get(ctx, network, "/tokens/"+id, nil)
	if err != nil {
		return TokenInfo{}, err
	}
	if status != http.StatusOK {
		return TokenInfo{}, fmt.Errorf("mirror 返回错误状态 %d (token %s)", status, id)
	}
	doc := gjson.ParseBytes(body)
	info := TokenInfo{
		TokenID: id,
		Symbol:  doc.Get("symbol").String(),
		Name:    doc.Get("name").String(),
	}
	// decimals 字段在 mirror API 中是字符串。
	info.Decimals = int(doc.Get("decimals").Int())
	return info, nil
}

func (c *Client) get(ctx context.Context, network, path string, query url.Values) ([]byte, int, error) {
	base := c.base(network)
	if base == "" {
		return nil, 0, fmt.Errorf("mirror 节点地址未配置 (network=%s)", network)
	}
	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("构造 mirror 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("调用 mirror 节点失败: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取 mirror 响应失败: %w", err)
	}
	return data, resp.StatusCode, nil
}
