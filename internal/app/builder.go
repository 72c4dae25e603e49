package app

import (
	"context"
	"os"
	"strings"
	"time"

	"majorgainz/internal/agent"
	"majorgainz/internal/agent/persona"
	"majorgainz/internal/analytics"
	"majorgainz/internal/component"
	mgcfg "majorgainz/internal/config"
	"majorgainz/internal/defi"
	binancegw "majorgainz/internal/gateway/binance"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/gateway/coingecko"
	"majorgainz/internal/gateway/mirror"
	"majorgainz/internal/gateway/provider"
	"majorgainz/internal/gateway/saucerswap"
	"majorgainz/internal/logger"
	"majorgainz/internal/ohlcv"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/render"
	"majorgainz/internal/store/gormstore"
	"majorgainz/internal/store/holdersdb"
	apihttp "majorgainz/internal/transport/http/api"
)

// AppBuilder 按配置逐层组装依赖。可选依赖（holders 快照、chat、
// binance 回补）缺失时记录告警并留空，对应接口返回 503。
type AppBuilder struct {
	cfg *mgcfg.Config
}

// NewAppBuilder constructs the builder.
func NewAppBuilder(cfg *mgcfg.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build assembles the full application.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	store, err := gormstore.New(cfg.Store.OHLCVPath)
	if err != nil {
		return nil, err
	}

	var holders *holdersdb.Store
	if hs, err := holdersdb.Open(cfg.Store.HoldersPath); err != nil {
		logger.Warnf("holders 快照库不可用，相关接口关闭: %v", err)
	} else {
		holders = hs
	}

	mirrorClient := mirror.NewClient(cfg.Hedera)
	geckoClient := coingecko.NewClient(cfg.CoinGecko)
	saucerClient := saucerswap.NewClient(cfg.Saucer)
	bonzoClient := bonzo.NewClient(cfg.Bonzo)

	var spot ohlcv.SpotCandleSource
	if cfg.Binance.Enabled {
		src, err := binancegw.New(cfg.Binance)
		if err != nil {
			logger.Warnf("binance 回补不可用: %v", err)
		} else {
			spot = src
		}
	}

	ohlcvSvc := ohlcv.NewService(store, saucerClient, spot, cfg.Tokens)
	portfolioSvc := portfolio.NewService(mirrorClient, geckoClient, store, cfg.Tokens)
	defiSvc := defi.NewService(saucerClient, bonzoClient, cfg.Analytics)
	analyticsSvc := analytics.NewService(ohlcvSvc, portfolioSvc, cfg.Analytics)
	renderer := render.NewRenderer(cfg.Render)

	var personas *persona.Registry
	if reg, err := persona.NewRegistry(cfg.Chat.PersonaPath); err != nil {
		logger.Warnf("persona 配置加载失败，使用内置默认人设: %v", err)
	} else {
		personas = reg
	}

	var chat apihttp.ChatEngine
	if key := resolveChatKey(cfg.Chat); key != "" {
		client := &provider.OpenAIChatClient{
			BaseURL:     cfg.Chat.BaseURL,
			APIKey:      key,
			Model:       cfg.Chat.Model,
			Timeout:     time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
			Temperature: cfg.Chat.Temperature,
			MaxTokens:   cfg.Chat.MaxTokens,
			MaxRetries:  cfg.Chat.MaxRetries,
		}
		chat = agent.NewEngine(client, personas, component.NewParser(nil), store, portfolioSvc)
	} else {
		logger.Warnf("chat.api_key 与 OPENAI_API_KEY 均未设置，chat 接口关闭")
	}

	router := &apihttp.Router{
		Chat:           chat,
		Portfolio:      portfolioSvc,
		Defi:           defiSvc,
		Market:         bonzoClient,
		OHLCV:          ohlcvSvc,
		Analytics:      analyticsSvc,
		Messages:       store,
		Renderer:       renderer,
		DefaultNetwork: cfg.Hedera.Network,
	}
	if holders != nil {
		router.Holders = holders
	}

	server, err := apihttp.NewServer(cfg.App.HTTPAddr, router)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:      cfg,
		server:   server,
		store:    store,
		holders:  holders,
		personas: personas,
	}, nil
}

func resolveChatKey(cfg mgcfg.ChatConfig) string {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}
