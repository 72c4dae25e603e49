package config

import "strings"

// Config 是 Major Gainz 后端的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Hedera    HederaConfig    `toml:"hedera"`
	Chat      ChatConfig      `toml:"chat"`
	Saucer    SaucerConfig    `toml:"saucerswap"`
	Bonzo     BonzoConfig     `toml:"bonzo"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Binance   BinanceConfig   `toml:"binance"`
	Store     StoreConfig     `toml:"store"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Render    RenderConfig    `toml:"render"`
	// Tokens 符号 → Hedera token 映射（HBAR 不在内，原生资产单独处理）。
	Tokens map[string]TokenRef `toml:"tokens"`
}

// TokenRef 一个受支持 token 的链上定位信息。
type TokenRef struct {
	ID       string `toml:"id"`
	Decimals int    `toml:"decimals"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// HederaConfig 镜像节点接入配置。
type HederaConfig struct {
	Network        string `toml:"network"`
	MirrorMainnet  string `toml:"mirror_mainnet"`
	MirrorTestnet  string `toml:"mirror_testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MirrorBase 返回当前网络对应的镜像节点地址。
func (h HederaConfig) MirrorBase(network string) string {
	if strings.EqualFold(strings.TrimSpace(network), "testnet") {
		return h.MirrorTestnet
	}
	return h.MirrorMainnet
}

// ChatConfig 聊天助手（OpenAI 兼容补全接口）配置。
// APIKey 为空时运行期回退到 OPENAI_API_KEY 环境变量。
type ChatConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	PersonaPath    string  `toml:"persona_path"`
}

type SaucerConfig struct {
	BaseURL    string `toml:"base_url"`
	TestnetURL string `toml:"testnet_url"`
	APIKey     string `toml:"api_key"`
}

type BonzoConfig struct {
	BaseURL string `toml:"base_url"`
}

type CoinGeckoConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// BinanceConfig 仅用于 HBAR/USDT 的 K 线回补。
type BinanceConfig struct {
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
	Symbol      string `toml:"symbol"`
}

type StoreConfig struct {
	OHLCVPath   string `toml:"ohlcv_path"`
	HoldersPath string `toml:"holders_path"`
}

// AnalyticsConfig 收益/风险分析与 DeFi 风险阈值。
type AnalyticsConfig struct {
	DefaultDays           int     `toml:"default_days"`
	MinPoints             int     `toml:"min_points"`
	LowLiquidityUSD       float64 `toml:"low_liquidity_usd"`
	HighUtilizationPct    float64 `toml:"high_utilization_pct"`
	UnhealthyHealthFactor float64 `toml:"unhealthy_health_factor"`
	AnnualizationDays     int     `toml:"annualization_days"`
}

type RenderConfig struct {
	SnapshotEnabled bool `toml:"snapshot_enabled"`
	WidthPx         int  `toml:"width_px"`
	HeightPx        int  `toml:"height_px"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
