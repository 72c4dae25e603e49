package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"majorgainz/internal/agent/persona"
	mgcfg "majorgainz/internal/config"
	"majorgainz/internal/logger"
	"majorgainz/internal/store/gormstore"
	"majorgainz/internal/store/holdersdb"
	apihttp "majorgainz/internal/transport/http/api"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
type App struct {
	cfg      *mgcfg.Config
	server   *apihttp.Server
	store    *gormstore.Store
	holders  *holdersdb.Store
	personas *persona.Registry
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *mgcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	logger.Infof("majorgainz 启动，监听 %s (network=%s)", a.server.Addr(), a.cfg.Hedera.Network)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.close()
		return nil
	})
	return group.Wait()
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭 ohlcv store 失败: %v", err)
		}
	}
	if a.holders != nil {
		if err := a.holders.Close(); err != nil {
			logger.Warnf("关闭 holders db 失败: %v", err)
		}
	}
}
