package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":8177"
	defaultAppLogPath      = "/data/logs/majorgainz.log"
	defaultAppLLMLogPath   = "/data/logs/majorgainz-llm.log"
	defaultHederaNetwork   = "mainnet"
	defaultMirrorMainnet   = "https://mainnet.mirrornode.hedera.com/api/v1"
	defaultMirrorTestnet   = "https://testnet.mirrornode.hedera.com/api/v1"
	defaultHederaTimeout   = 20
	defaultChatBaseURL     = "https://api.openai.com/v1"
	defaultChatModel       = "gpt-4o"
	defaultChatMaxTokens   = 2000
	defaultChatTemperature = 0.7
	defaultChatTimeout     = 30
	defaultChatRetries     = 2
	defaultPersonaPath     = "configs/persona.yaml"
	defaultSaucerBase      = "https://api.saucerswap.finance"
	defaultSaucerTestnet   = "https://test-api.saucerswap.finance"
	defaultBonzoBase       = "https://data.bonzo.finance"
	defaultCoinGeckoBase   = "https://api.coingecko.com/api/v3"
	defaultBinanceREST     = "https://api.binance.com"
	defaultBinanceSymbol   = "HBARUSDT"
	defaultOHLCVPath       = "/data/db/ohlcv.db"
	defaultHoldersPath     = "/data/db/token_holdings.db"
	defaultAnalyticsDays   = 90
	defaultAnalyticsPoints = 10
	defaultLowLiquidity    = 1000.0
	defaultHighUtilization = 90.0
	defaultUnhealthyHF     = 1.2
	defaultAnnualization   = 365
	defaultRenderWidth     = 1200
	defaultRenderHeight    = 640
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Hedera.applyDefaults(keys)
	c.Chat.applyDefaults(keys)
	c.Saucer.applyDefaults(keys)
	c.Bonzo.applyDefaults(keys)
	c.CoinGecko.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Analytics.applyDefaults(keys)
	c.Render.applyDefaults(keys)
	if len(c.Tokens) == 0 {
		c.Tokens = defaultTokens()
	}
}

// defaultTokens 主网常用 token，配置文件可整体覆盖。
func defaultTokens() map[string]TokenRef {
	return map[string]TokenRef{
		"SAUCE": {ID: "0.0.731861", Decimals: 6},
		"USDC":  {ID: "0.0.456858", Decimals: 6},
		"HBARX": {ID: "0.0.834116", Decimals: 8},
		"WHBAR": {ID: "0.0.1456986", Decimals: 8},
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (h *HederaConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("hedera.network", &h.Network, defaultHederaNetwork),
		stringFieldDefault("hedera.mirror_mainnet", &h.MirrorMainnet, defaultMirrorMainnet),
		stringFieldDefault("hedera.mirror_testnet", &h.MirrorTestnet, defaultMirrorTestnet),
		intFieldDefault("hedera.timeout_seconds", &h.TimeoutSeconds, defaultHederaTimeout),
	)
}

func (c *ChatConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("chat.base_url", &c.BaseURL, defaultChatBaseURL),
		stringFieldDefault("chat.model", &c.Model, defaultChatModel),
		stringFieldDefault("chat.persona_path", &c.PersonaPath, defaultPersonaPath),
		intFieldDefault("chat.max_tokens", &c.MaxTokens, defaultChatMaxTokens),
		intFieldDefault("chat.timeout_seconds", &c.TimeoutSeconds, defaultChatTimeout),
		intFieldDefault("chat.max_retries", &c.MaxRetries, defaultChatRetries),
		floatFieldDefault("chat.temperature", &c.Temperature, defaultChatTemperature),
	)
}

func (s *SaucerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("saucerswap.base_url", &s.BaseURL, defaultSaucerBase),
		stringFieldDefault("saucerswap.testnet_url", &s.TestnetURL, defaultSaucerTestnet),
	)
}

func (b *BonzoConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("bonzo.base_url", &b.BaseURL, defaultBonzoBase),
	)
}

func (c *CoinGeckoConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("coingecko.base_url", &c.BaseURL, defaultCoinGeckoBase),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		stringFieldDefault("binance.symbol", &b.Symbol, defaultBinanceSymbol),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.ohlcv_path", &s.OHLCVPath, defaultOHLCVPath),
		stringFieldDefault("store.holders_path", &s.HoldersPath, defaultHoldersPath),
	)
}

func (a *AnalyticsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("analytics.default_days", &a.DefaultDays, defaultAnalyticsDays),
		intFieldDefault("analytics.min_points", &a.MinPoints, defaultAnalyticsPoints),
		intFieldDefault("analytics.annualization_days", &a.AnnualizationDays, defaultAnnualization),
		floatFieldDefault("analytics.low_liquidity_usd", &a.LowLiquidityUSD, defaultLowLiquidity),
		floatFieldDefault("analytics.high_utilization_pct", &a.HighUtilizationPct, defaultHighUtilization),
		floatFieldDefault("analytics.unhealthy_health_factor", &a.UnhealthyHealthFactor, defaultUnhealthyHF),
	)
}

func (r *RenderConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("render.width_px", &r.WidthPx, defaultRenderWidth),
		intFieldDefault("render.height_px", &r.HeightPx, defaultRenderHeight),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target <= 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target <= 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
