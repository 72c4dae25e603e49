package component

// 中文说明：
// 本文件定义聊天回复中嵌入的可视化组件指令模型。
// type 为封闭集合，未知类型在校验阶段被拒绝；props 宽松透传，不做语义校验。

// Position 描述组件相对于文本的摆放位置。
type Position string

const (
	PositionAbove  Position = "above"
	PositionInline Position = "inline"
	PositionBelow  Position = "below"
)

// 封闭的组件类型集合。渲染端另外认识 volatility-surface，
// 但解析/校验不接受它（见 DESIGN.md 的取舍记录）。
const (
	TypePortfolioChart       = "portfolio-chart"
	TypeDefiHeatmap          = "defi-heatmap"
	TypeTokenAnalysis        = "token-analysis"
	TypeReturnsChart         = "returns-chart"
	TypeCorrelationMatrix    = "correlation-matrix"
	TypeLegacyPortfolioChart = "legacy-portfolio-chart"
)

var knownTypes = map[string]bool{
	TypePortfolioChart:       true,
	TypeDefiHeatmap:          true,
	TypeTokenAnalysis:        true,
	TypeReturnsChart:         true,
	TypeCorrelationMatrix:    true,
	TypeLegacyPortfolioChart: true,
}

var defaultTitles = map[string]string{
	TypePortfolioChart:       "Portfolio Allocation",
	TypeReturnsChart:         "Returns & Volatility Analysis",
	TypeDefiHeatmap:          "DeFi Opportunities",
	TypeCorrelationMatrix:    "Token Correlations",
	TypeTokenAnalysis:        "Token Holder Analysis",
	TypeLegacyPortfolioChart: "Portfolio Chart",
}

// KnownType 判断类型是否属于封闭集合。
func KnownType(typ string) bool {
	return knownTypes[typ]
}

// DefaultTitle 返回类型对应的默认标题；未登记的类型回退为 "Chart"。
func DefaultTitle(typ string) string {
	if title, ok := defaultTitles[typ]; ok {
		return title
	}
	return "Chart"
}

// Props 组件属性包：string/number/bool 或嵌套对象的宽松映射。
// Sanitize 阶段会丢弃其它值（数组、null 等），之后不再做任何语义校验。
type Props map[string]any

// Instruction 校验后的组件渲染指令。
type Instruction struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Props    Props    `json:"props"`
	Position Position `json:"position"`
	Title    string   `json:"title"`
	Height   *float64 `json:"height,omitempty"`
}

// Result 一次提取的产出：剥离标记后的展示文本与按出现顺序排列的指令。
type Result struct {
	Text       string        `json:"text"`
	Components []Instruction `json:"components"`
}
