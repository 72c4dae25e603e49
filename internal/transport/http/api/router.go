package apihttp

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"majorgainz/internal/agent"
	"majorgainz/internal/analytics"
	"majorgainz/internal/component"
	"majorgainz/internal/defi"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/gateway/mirror"
	"majorgainz/internal/ohlcv"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/render"
	"majorgainz/internal/store/gormstore"
	"majorgainz/internal/store/holdersdb"
)

// ChatEngine 对话入口。
type ChatEngine interface {
	Turn(ctx context.Context, req agent.TurnRequest) (*agent.Message, error)
}

// PortfolioService 组合估值。
type PortfolioService interface {
	Build(ctx context.Context, network, accountID string) (*portfolio.Portfolio, error)
}

// DefiService 账户 DeFi 全景。
type DefiService interface {
	Profile(ctx context.Context, network, accountID string) (*defi.Profile, error)
}

// MarketSource 借贷市场数据，DeFi 热力图渲染用。
type MarketSource interface {
	Market(ctx context.Context) ([]bonzo.Reserve, error)
}

// OHLCVService 日线序列与统计。
type OHLCVService interface {
	Series(ctx context.Context, network, symbol string, days int) ([]gormstore.Candle, error)
	Latest(ctx context.Context, network, symbol string) (*gormstore.Candle, error)
	SeriesStats(ctx context.Context, network, symbol string, days int) (*ohlcv.Stats, error)
}

// AnalyticsService 收益与相关性分析。
type AnalyticsService interface {
	Returns(ctx context.Context, network string, symbols []string, days int) ([]analytics.TokenReturns, error)
	PortfolioReturns(ctx context.Context, network, accountID string, days int) ([]analytics.TokenReturns, error)
	Correlation(ctx context.Context, network string, symbols []string, days int) (*analytics.Matrix, error)
	PortfolioCorrelation(ctx context.Context, network, accountID string, days int) (*analytics.Matrix, error)
}

// HoldersStore 持仓分布快照。
type HoldersStore interface {
	TopHolders(ctx context.Context, symbol string, n int) ([]holdersdb.Holder, error)
	Percentiles(ctx context.Context, symbol string, balances []float64) ([]holdersdb.PercentileRow, error)
	HolderCount(ctx context.Context, symbol string) (int, error)
}

// MessageLog 历史消息查询。
type MessageLog interface {
	RecentMessages(ctx context.Context, n int) ([]gormstore.ChatMessage, error)
}

// ComponentRenderer 组件指令 → HTML/PNG。
type ComponentRenderer interface {
	Dispatch(inst component.Instruction, data render.Data) (*render.Fragment, error)
	Snapshot(ctx context.Context, frag *render.Fragment) ([]byte, error)
}

// Router 持有所有服务依赖并注册 /api 路由。
// 未注入的依赖，对应接口返回 503。
type Router struct {
	Chat      ChatEngine
	Portfolio PortfolioService
	Defi      DefiService
	Market    MarketSource
	OHLCV     OHLCVService
	Analytics AnalyticsService
	Holders   HoldersStore
	Messages  MessageLog
	Renderer  ComponentRenderer

	// DefaultNetwork network 查询参数缺省值，通常来自配置。
	DefaultNetwork string
}

// Register 将所有路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	chat := group.Group("/chat")
	chat.POST("/completion", r.handleChatCompletion)
	chat.GET("/history", r.handleChatHistory)
	chat.GET("/health", r.handleChatHealth)

	group.GET("/portfolio/:address", r.handlePortfolio)
	group.GET("/defi/positions/:account", r.handleDefiPositions)
	group.GET("/defi/market", r.handleDefiMarket)

	tokens := group.Group("/ohlcv")
	tokens.GET("/:symbol", r.handleOHLCVSeries)
	tokens.GET("/:symbol/latest", r.handleOHLCVLatest)
	tokens.GET("/:symbol/stats", r.handleOHLCVStats)

	anal := group.Group("/analytics")
	anal.GET("/returns", r.handleReturns)
	anal.GET("/returns/:address", r.handlePortfolioReturns)
	anal.GET("/correlation", r.handleCorrelation)
	anal.GET("/correlation/:address", r.handlePortfolioCorrelation)

	holders := group.Group("/holders")
	holders.GET("/:symbol/top", r.handleTopHolders)
	holders.GET("/:symbol/percentiles", r.handlePercentiles)

	group.POST("/components/render", r.handleRenderComponent)
}

func (r *Router) network(c *gin.Context) (string, bool) {
	network := strings.ToLower(strings.TrimSpace(c.Query("network")))
	if network == "" {
		network = r.DefaultNetwork
	}
	if network == "" {
		network = "mainnet"
	}
	if network != "mainnet" && network != "testnet" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "network 只支持 mainnet 或 testnet"})
		return "", false
	}
	return network, true
}

func accountParam(c *gin.Context, name string) (string, bool) {
	account := strings.TrimSpace(c.Param(name))
	if !mirror.ValidAccountID(account) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "账户 ID 需为 shard.realm.num 格式"})
		return "", false
	}
	return account, true
}

func daysQuery(c *gin.Context) int {
	days, _ := strconv.Atoi(c.Query("days"))
	return days
}

func symbolsQuery(c *gin.Context) []string {
	raw := strings.TrimSpace(c.Query("symbols"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *Router) handleChatCompletion(c *gin.Context) {
	if r.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat 服务未启用"})
		return
	}
	var req agent.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	msg, err := r.Chat.Turn(c.Request.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "校验失败") {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if strings.Contains(err.Error(), "不能为空") {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (r *Router) handleChatHistory(c *gin.Context) {
	if r.Messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "消息存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	messages, err := r.Messages.RecentMessages(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (r *Router) handleChatHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"enabled": r.Chat != nil,
	})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	if r.Portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio 服务未启用"})
		return
	}
	account, ok := accountParam(c, "address")
	if !ok {
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	p, err := r.Portfolio.Build(c.Request.Context(), network, account)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) handleDefiPositions(c *gin.Context) {
	if r.Defi == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "defi 服务未启用"})
		return
	}
	account, ok := accountParam(c, "account")
	if !ok {
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	profile, err := r.Defi.Profile(c.Request.Context(), network, account)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (r *Router) handleDefiMarket(c *gin.Context) {
	if r.Market == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "市场数据源未启用"})
		return
	}
	reserves, err := r.Market.Market(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reserves": reserves})
}

func (r *Router) handleOHLCVSeries(c *gin.Context) {
	if r.OHLCV == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ohlcv 服务未启用"})
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	candles, err := r.OHLCV.Series(c.Request.Context(), network, c.Param("symbol"), daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles})
}

func (r *Router) handleOHLCVLatest(c *gin.Context) {
	if r.OHLCV == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ohlcv 服务未启用"})
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	candle, err := r.OHLCV.Latest(c.Request.Context(), network, c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if candle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有历史数据"})
		return
	}
	c.JSON(http.StatusOK, candle)
}

func (r *Router) handleOHLCVStats(c *gin.Context) {
	if r.OHLCV == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ohlcv 服务未启用"})
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	stats, err := r.OHLCV.SeriesStats(c.Request.Context(), network, c.Param("symbol"), daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (r *Router) handleReturns(c *gin.Context) {
	if r.Analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics 服务未启用"})
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	symbols := symbolsQuery(c)
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols 查询参数必填"})
		return
	}
	rows, err := r.Analytics.Returns(c.Request.Context(), network, symbols, daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": rows})
}

func (r *Router) handlePortfolioReturns(c *gin.Context) {
	if r.Analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics 服务未启用"})
		return
	}
	account, ok := accountParam(c, "address")
	if !ok {
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	rows, err := r.Analytics.PortfolioReturns(c.Request.Context(), network, account, daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"returns": rows})
}

func (r *Router) handleCorrelation(c *gin.Context) {
	if r.Analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics 服务未启用"})
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	symbols := symbolsQuery(c)
	if len(symbols) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols 至少需要两个 token"})
		return
	}
	m, err := r.Analytics.Correlation(c.Request.Context(), network, symbols, daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (r *Router) handlePortfolioCorrelation(c *gin.Context) {
	if r.Analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics 服务未启用"})
		return
	}
	account, ok := accountParam(c, "address")
	if !ok {
		return
	}
	network, ok := r.network(c)
	if !ok {
		return
	}
	m, err := r.Analytics.PortfolioCorrelation(c.Request.Context(), network, account, daysQuery(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (r *Router) handleTopHolders(c *gin.Context) {
	if r.Holders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "holders 数据未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	symbol := c.Param("symbol")
	holders, err := r.Holders.TopHolders(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	count, _ := r.Holders.HolderCount(c.Request.Context(), symbol)
	c.JSON(http.StatusOK, gin.H{"holders": holders, "totalHolders": count})
}

func (r *Router) handlePercentiles(c *gin.Context) {
	if r.Holders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "holders 数据未启用"})
		return
	}
	var balances []float64
	for _, raw := range strings.Split(c.Query("balances"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "balances 需为数字列表"})
			return
		}
		balances = append(balances, v)
	}
	if len(balances) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "balances 查询参数必填"})
		return
	}
	rows, err := r.Holders.Percentiles(c.Request.Context(), c.Param("symbol"), balances)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"percentiles": rows})
}

// renderRequest 组件渲染请求：指令草稿 + 数据定位参数。
type renderRequest struct {
	Instruction component.Draft `json:"instruction"`
	AccountID   string          `json:"accountId,omitempty"`
	Network     string          `json:"network,omitempty"`
	Days        int             `json:"days,omitempty"`
	Format      string          `json:"format,omitempty"` // html | png
}

func (r *Router) handleRenderComponent(c *gin.Context) {
	if r.Renderer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "渲染服务未启用"})
		return
	}
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	inst := component.Sanitize(req.Instruction, nil)
	if inst == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的组件类型: " + req.Instruction.Type})
		return
	}
	network := strings.ToLower(strings.TrimSpace(req.Network))
	if network == "" {
		network = r.DefaultNetwork
	}

	data, err := r.renderData(c.Request.Context(), *inst, network, req.AccountID, req.Days)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"id": inst.ID, "error": err.Error()})
		return
	}
	frag, err := r.Renderer.Dispatch(*inst, data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"id": inst.ID, "error": err.Error()})
		return
	}
	if strings.EqualFold(req.Format, "png") {
		png, err := r.Renderer.Snapshot(c.Request.Context(), frag)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"id": inst.ID, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":    frag.ID,
			"type":  frag.Type,
			"title": frag.Title,
			"png":   base64.StdEncoding.EncodeToString(png),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":    frag.ID,
		"type":  frag.Type,
		"title": frag.Title,
		"html":  string(frag.HTML),
	})
}

// renderData 按组件类型拉取渲染所需的数据。
func (r *Router) renderData(ctx context.Context, inst component.Instruction, network, accountID string, days int) (render.Data, error) {
	var data render.Data
	switch inst.Type {
	case component.TypePortfolioChart, component.TypeLegacyPortfolioChart:
		if r.Portfolio == nil {
			return data, errServiceMissing("portfolio")
		}
		p, err := r.Portfolio.Build(ctx, network, accountID)
		if err != nil {
			return data, err
		}
		data.Portfolio = p
	case component.TypeReturnsChart:
		if r.Analytics == nil {
			return data, errServiceMissing("analytics")
		}
		rows, err := r.Analytics.PortfolioReturns(ctx, network, accountID, days)
		if err != nil {
			return data, err
		}
		data.Returns = rows
	case component.TypeCorrelationMatrix:
		if r.Analytics == nil {
			return data, errServiceMissing("analytics")
		}
		m, err := r.Analytics.PortfolioCorrelation(ctx, network, accountID, days)
		if err != nil {
			return data, err
		}
		data.Correlation = m
	case component.TypeDefiHeatmap:
		if r.Market == nil {
			return data, errServiceMissing("market")
		}
		reserves, err := r.Market.Market(ctx)
		if err != nil {
			return data, err
		}
		data.Reserves = reserves
	case component.TypeTokenAnalysis:
		if r.OHLCV == nil {
			return data, errServiceMissing("ohlcv")
		}
		symbol, _ := inst.Props["token"].(string)
		if symbol == "" {
			symbol = "HBAR"
		}
		candles, err := r.OHLCV.Series(ctx, network, symbol, days)
		if err != nil {
			return data, err
		}
		data.Candles = candles
	}
	return data, nil
}

type missingServiceError string

func (e missingServiceError) Error() string { return string(e) + " 服务未启用" }

func errServiceMissing(name string) error { return missingServiceError(name) }
