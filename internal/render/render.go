package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"majorgainz/internal/analytics"
	"majorgainz/internal/component"
	"majorgainz/internal/config"
	"majorgainz/internal/defi"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

// Data 渲染单个组件所需的数据，按组件类型取用对应字段。
type Data struct {
	Portfolio   *portfolio.Portfolio
	DeFi        *defi.Profile
	Reserves    []bonzo.Reserve
	Returns     []analytics.TokenReturns
	Correlation *analytics.Matrix
	Candles     []gormstore.Candle
}

// Fragment 一个渲染完成的组件：自包含的 ECharts HTML 文档。
type Fragment struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	HTML  []byte `json:"html"`
}

// Renderer 将组件指令渲染为 HTML 片段，可选截图为 PNG。
type Renderer struct {
	cfg config.RenderConfig
}

// NewRenderer constructs a renderer.
func NewRenderer(cfg config.RenderConfig) *Renderer {
	return &Renderer{cfg: cfg}
}

func (r *Renderer) width() int {
	if r.cfg.WidthPx > 0 {
		return r.cfg.WidthPx
	}
	return 1200
}

func (r *Renderer) height() int {
	if r.cfg.HeightPx > 0 {
		return r.cfg.HeightPx
	}
	return 640
}

// Dispatch renders one instruction against the supplied data.
func (r *Renderer) Dispatch(inst component.Instruction, data Data) (*Fragment, error) {
	if r == nil {
		return nil, fmt.Errorf("renderer 未初始化")
	}
	var (
		html []byte
		err  error
	)
	switch inst.Type {
	case component.TypePortfolioChart, component.TypeLegacyPortfolioChart:
		html, err = r.buildPortfolioPie(inst, data.Portfolio)
	case component.TypeReturnsChart:
		html, err = r.buildReturnsScatter(inst, data.Returns)
	case component.TypeDefiHeatmap:
		html, err = r.buildDefiHeatmap(inst, data.Reserves)
	case component.TypeCorrelationMatrix:
		html, err = r.buildCorrelationHeatmap(inst, data.Correlation)
	case component.TypeTokenAnalysis:
		html, err = r.buildTokenLine(inst, data.Candles)
	default:
		return nil, fmt.Errorf("不支持渲染的组件类型: %s", inst.Type)
	}
	if err != nil {
		return nil, err
	}
	title := inst.Title
	if title == "" {
		title = component.DefaultTitle(inst.Type)
	}
	return &Fragment{ID: inst.ID, Type: inst.Type, Title: title, HTML: html}, nil
}

// DispatchAll renders every instruction. 单个失败通过 onError 上报并继续渲染
// 其余组件，错误按指令 ID 归属。
func (r *Renderer) DispatchAll(insts []component.Instruction, data Data, onError func(id string, err error)) []Fragment {
	out := make([]Fragment, 0, len(insts))
	for _, inst := range insts {
		frag, err := r.Dispatch(inst, data)
		if err != nil {
			if onError != nil {
				onError(inst.ID, err)
			}
			continue
		}
		out = append(out, *frag)
	}
	return out
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// ensureHeadless 首次调用时探测 headless chrome 是否可用。
func ensureHeadless(ctx context.Context) error {
	headlessOnce.Do(func() {
		target := ctx
		if target == nil {
			target = context.Background()
		}
		parent, cancel := chromedp.NewContext(target)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// Snapshot renders the fragment HTML to a PNG via headless chrome.
func (r *Renderer) Snapshot(ctx context.Context, frag *Fragment) ([]byte, error) {
	if frag == nil || len(frag.HTML) == 0 {
		return nil, fmt.Errorf("没有可截图的内容")
	}
	if !r.cfg.SnapshotEnabled {
		return nil, fmt.Errorf("截图功能未启用")
	}
	if err := ensureHeadless(ctx); err != nil {
		return nil, fmt.Errorf("headless chrome 不可用: %w", err)
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(frag.HTML)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(r.width()), int64(r.height())),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
