package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"majorgainz/internal/analytics"
	"majorgainz/internal/component"
	"majorgainz/internal/gateway/bonzo"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

const (
	colorBackground    = "#0b1120"
	colorTextPrimary   = "#e2e8f0"
	colorTextSecondary = "#94a3b8"
)

func (r *Renderer) initOpts() opts.Initialization {
	return opts.Initialization{
		Width:           fmt.Sprintf("%dpx", r.width()),
		Height:          fmt.Sprintf("%dpx", r.height()),
		BackgroundColor: colorBackground,
	}
}

func titleOpts(title string) charts.GlobalOpts {
	return charts.WithTitleOpts(opts.Title{
		Title:      title,
		Left:       "left",
		Top:        "10",
		TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
	})
}

func instTitle(inst component.Instruction) string {
	if inst.Title != "" {
		return inst.Title
	}
	return component.DefaultTitle(inst.Type)
}

func renderPage(charters ...components.Charter) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(charters...)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("渲染图表失败: %w", err)
	}
	return buf.Bytes(), nil
}

// buildPortfolioPie 资产配置饼图。
func (r *Renderer) buildPortfolioPie(inst component.Instruction, p *portfolio.Portfolio) ([]byte, error) {
	if p == nil || len(p.Holdings) == 0 {
		return nil, fmt.Errorf("缺少组合数据")
	}
	items := make([]opts.PieData, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		if h.ValueUSD <= 0 {
			continue
		}
		items = append(items, opts.PieData{Name: h.Symbol, Value: h.ValueUSD})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("组合估值为 0，无法绘制配置图")
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(r.initOpts()),
		titleOpts(instTitle(inst)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
	)
	pie.AddSeries("holdings", items).SetSeriesOptions(
		charts.WithPieChartOpts(opts.PieChart{Radius: []string{"35%", "70%"}}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Color: colorTextPrimary, Formatter: "{b}: {d}%"}),
	)
	return renderPage(pie)
}

// buildReturnsScatter 波动率(x) vs 累计收益(y) 散点图。
func (r *Renderer) buildReturnsScatter(inst component.Instruction, rows []analytics.TokenReturns) ([]byte, error) {
	var valid []analytics.TokenReturns
	for _, row := range rows {
		if row.Error == "" {
			valid = append(valid, row)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("缺少收益数据")
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(r.initOpts()),
		titleOpts(instTitle(inst)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:      "Annualized volatility",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "Return %",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	for _, row := range valid {
		scatter.AddSeries(row.Symbol, []opts.ScatterData{{
			Value:      []any{row.Volatility, row.CumulativePct},
			SymbolSize: 18,
		}})
	}
	scatter.SetSeriesOptions(
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Color: colorTextPrimary, Formatter: "{a}"}),
	)
	return renderPage(scatter)
}

// buildDefiHeatmap 协议资产 × 指标 热力图（供给 APY / 借款 APY / 利用率）。
func (r *Renderer) buildDefiHeatmap(inst component.Instruction, reserves []bonzo.Reserve) ([]byte, error) {
	if len(reserves) == 0 {
		return nil, fmt.Errorf("缺少 DeFi 市场数据")
	}
	metrics := []string{"Supply APY", "Borrow APY", "Utilization"}
	symbols := make([]string, 0, len(reserves))
	var cells []opts.HeatMapData
	maxVal := 0.0
	for i, res := range reserves {
		symbols = append(symbols, res.Symbol)
		values := []float64{res.SupplyAPY, res.BorrowAPY, res.UtilizationPct}
		for j, v := range values {
			if v > maxVal {
				maxVal = v
			}
			cells = append(cells, opts.HeatMapData{Value: [3]any{i, j, v}})
		}
	}
	if maxVal <= 0 {
		maxVal = 1
	}
	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(r.initOpts()),
		titleOpts(instTitle(inst)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			Data:      symbols,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:      "category",
			Data:      metrics,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
			InRange:    &opts.VisualMapInRange{Color: []string{"#1e3a8a", "#38bdf8", "#facc15"}},
		}),
	)
	hm.AddSeries("defi", cells)
	return renderPage(hm)
}

// buildCorrelationHeatmap token 相关性矩阵热力图，值域固定 [-1, 1]。
func (r *Renderer) buildCorrelationHeatmap(inst component.Instruction, m *analytics.Matrix) ([]byte, error) {
	if m == nil || len(m.Symbols) == 0 {
		return nil, fmt.Errorf("缺少相关性数据")
	}
	var cells []opts.HeatMapData
	for i := range m.Symbols {
		for j := range m.Symbols {
			cells = append(cells, opts.HeatMapData{Value: [3]any{i, j, m.Values[i][j]}})
		}
	}
	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(r.initOpts()),
		titleOpts(instTitle(inst)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			Data:      m.Symbols,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:      "category",
			Data:      m.Symbols,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        -1,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: []string{"#ef4444", "#0b1120", "#22c55e"}},
		}),
	)
	hm.AddSeries("correlation", cells)
	return renderPage(hm)
}

// buildTokenLine 单 token 收盘价走势。props.token 只影响标题。
func (r *Renderer) buildTokenLine(inst component.Instruction, candles []gormstore.Candle) ([]byte, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("缺少历史价格数据")
	}
	dates := make([]string, 0, len(candles))
	closes := make([]opts.LineData, 0, len(candles))
	for _, c := range candles {
		dates = append(dates, c.Date.Format("2006-01-02"))
		closes = append(closes, opts.LineData{Value: c.Close})
	}
	title := instTitle(inst)
	if token, ok := inst.Props["token"].(string); ok && token != "" {
		title = fmt.Sprintf("%s (%s)", title, strings.ToUpper(token))
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(r.initOpts()),
		titleOpts(title),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	line.SetXAxis(dates).AddSeries("Close", closes,
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#38bdf8", Width: 2}),
	)
	return renderPage(line)
}
