package component

// 中文说明：
// 组件指令提取：三种标记文法 + 自然语言兜底。
// 三个扫描都跑在原始文本上（不在彼此的产物上），前缀字面量互斥，
// 因此剥离区间不会重叠。负载用手写深度扫描器定位、gjson 校验，
// 避免对无界 JSON 使用正则。

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"majorgainz/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

const (
	markerStructured = "[CHART_COMPONENT:"
	markerSimple     = "[CHART:"
	markerBasic      = "[COMPONENT:"
)

// Parser 把一轮助手回复解析为展示文本 + 组件指令列表。
// 无共享可变状态，可并发使用。
type Parser struct {
	NextID IDSource
}

func NewParser(nextID IDSource) *Parser {
	return &Parser{NextID: nextID}
}

// Parse 提取所有标记。匹配顺序：结构化 → 简化 → 基础，各自按文本位置；
// 仅当三种文法一条都没产出时才尝试自然语言兜底（且不剥离文本）。
func (p *Parser) Parse(raw string) Result {
	nextID := p.NextID
	if nextID == nil {
		nextID = DefaultID
	}

	var strip []span
	comps := make([]Instruction, 0, 2)

	overlapped := func(s span) bool {
		for _, t := range strip {
			if s.start < t.end && t.start < s.end {
				return true
			}
		}
		return false
	}
	// 语法被识别即剥离，哪怕类型不被接受；解析失败的标记则由各扫描器原样跳过。
	add := func(s span, d Draft) {
		if overlapped(s) {
			return
		}
		strip = append(strip, s)
		if inst := Sanitize(d, nextID); inst != nil {
			comps = append(comps, *inst)
		}
	}

	scanStructured(raw, add)
	scanSimple(raw, add)
	scanBasic(raw, add)

	if len(comps) == 0 {
		if typ, ok := matchFallback(raw); ok {
			if inst := Sanitize(Draft{Type: typ}, nextID); inst != nil {
				comps = append(comps, *inst)
			}
		}
	}

	return Result{Text: removeSpans(raw, strip), Components: comps}
}

// Parse 使用默认 ID 源的一次性解析入口。
func Parse(raw string) Result {
	return NewParser(nil).Parse(raw)
}

type span struct {
	start, end int
}

// scanStructured 识别 [CHART_COMPONENT:{...}]。
// 负载无法闭合或不是合法 JSON 对象时，标记整体留在文本里，
// 让读者看到原样，而不是悄悄吃掉内容。
func scanStructured(raw string, add func(span, Draft)) {
	idx := 0
	for {
		rel := strings.Index(raw[idx:], markerStructured)
		if rel < 0 {
			return
		}
		start := idx + rel
		payloadStart := start + len(markerStructured)
		end, ok := jsonutil.ScanObjectAt(raw, payloadStart)
		if !ok || end >= len(raw) || raw[end] != ']' {
			idx = payloadStart
			continue
		}
		payload := raw[payloadStart:end]
		if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
			idx = end + 1
			continue
		}
		add(span{start, end + 1}, draftFromPayload(payload))
		idx = end + 1
	}
}

func draftFromPayload(payload string) Draft {
	obj := gjson.Parse(payload)
	d := Draft{
		Type:     obj.Get("type").String(),
		Position: obj.Get("position").String(),
		Title:    obj.Get("title").String(),
	}
	// id 只有在完整 JSON 标记里显式给出才沿用
	if id := obj.Get("id"); id.Type == gjson.String {
		d.ID = id.Str
	}
	if h := obj.Get("height"); h.Type == gjson.Number {
		v := h.Num
		d.Height = &v
	}
	if props := obj.Get("props"); props.IsObject() {
		var m map[string]any
		if err := json.Unmarshal([]byte(props.Raw), &m); err == nil {
			d.Props = NormalizeProps(m)
		}
	}
	return d
}

// scanSimple 识别 [CHART:<type>] 与 [CHART:<type>:<params>]。
// 注意 [CHART_COMPONENT: 不含 "[CHART:"，两种前缀天然互斥。
func scanSimple(raw string, add func(span, Draft)) {
	idx := 0
	for {
		rel := strings.Index(raw[idx:], markerSimple)
		if rel < 0 {
			return
		}
		start := idx + rel
		cur := start + len(markerSimple)
		typeEnd := cur
		for typeEnd < len(raw) && raw[typeEnd] != ':' && raw[typeEnd] != ']' {
			typeEnd++
		}
		if typeEnd >= len(raw) {
			return
		}
		typ := strings.TrimSpace(raw[cur:typeEnd])
		if raw[typeEnd] == ']' {
			add(span{start, typeEnd + 1}, Draft{Type: typ})
			idx = typeEnd + 1
			continue
		}
		paramStart := typeEnd + 1
		paramEnd := paramStart
		if paramStart < len(raw) && raw[paramStart] == '{' {
			// JSON 参数未闭合时 ']' 边界不可判定，标记原样保留。
			objEnd, ok := jsonutil.ScanObjectAt(raw, paramStart)
			if !ok || objEnd >= len(raw) || raw[objEnd] != ']' {
				idx = paramStart
				continue
			}
			paramEnd = objEnd
		} else {
			off := strings.IndexByte(raw[paramStart:], ']')
			if off < 0 {
				return
			}
			paramEnd = paramStart + off
		}
		d := Draft{Type: typ}
		applyParams(&d, raw[paramStart:paramEnd])
		add(span{start, paramEnd + 1}, d)
		idx = paramEnd + 1
	}
}

// scanBasic 识别 [COMPONENT:<type>]，无参数。
func scanBasic(raw string, add func(span, Draft)) {
	idx := 0
	for {
		rel := strings.Index(raw[idx:], markerBasic)
		if rel < 0 {
			return
		}
		start := idx + rel
		cur := start + len(markerBasic)
		off := strings.IndexByte(raw[cur:], ']')
		if off < 0 {
			return
		}
		end := cur + off
		add(span{start, end + 1}, Draft{Type: strings.TrimSpace(raw[cur:end])})
		idx = end + 1
	}
}

// applyParams 参数串优先按 JSON 对象解析，失败则按 k=v 逗号列表处理。
// position/title/height 提升为指令字段，其余键落入 props。
func applyParams(d *Draft, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	var m map[string]any
	if strings.HasPrefix(raw, "{") && gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			m = nil
		}
	}
	if m == nil {
		m = make(map[string]any)
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			m[k] = coerceParamValue(strings.TrimSpace(v))
		}
	}
	liftReserved(d, m)
}

func liftReserved(d *Draft, m map[string]any) {
	if v, ok := m["position"].(string); ok {
		d.Position = v
	}
	if v, ok := m["title"].(string); ok {
		d.Title = v
	}
	if v, ok := m["height"]; ok {
		if nv, valid := normalizeValue(v); valid {
			if f, isNum := nv.(float64); isNum {
				d.Height = &f
			}
		}
	}
	if v, ok := m["props"].(map[string]any); ok {
		d.Props = NormalizeProps(v)
	}
	delete(m, "position")
	delete(m, "title")
	delete(m, "height")
	delete(m, "props")
	delete(m, "type") // 标记里的 type 为准，参数里出现的忽略
	rest := NormalizeProps(m)
	if d.Props == nil {
		d.Props = rest
		return
	}
	for k, v := range rest {
		if _, exists := d.Props[k]; !exists {
			d.Props[k] = v
		}
	}
}

// coerceParamValue true/false → bool；纯数字 → float64；其余按字符串处理并去引号。
func coerceParamValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return strings.Trim(v, `"'`)
}

// 自然语言兜底模式，按序匹配，命中第一个即止。
// 字符类有界、无嵌套无界量词，避免灾难性回溯。
var fallbackPatterns = []struct {
	re  *regexp.Regexp
	typ string
}{
	{regexp.MustCompile(`(?i)portfolio\s+(breakdown|allocation|composition|split)|breakdown\s+of\s+(your|my|the)\s+portfolio`), TypePortfolioChart},
	{regexp.MustCompile(`(?i)risk[-/\s]+return|returns?\s+and\s+volatility|volatility\s+(analysis|profile|chart)|expected\s+returns?`), TypeReturnsChart},
	{regexp.MustCompile(`(?i)defi\s+(heatmap|opportunit|position)|yield\s+opportunit`), TypeDefiHeatmap},
	{regexp.MustCompile(`(?i)correlation\s+(matrix|between|across)|correlated\s+with`), TypeCorrelationMatrix},
	{regexp.MustCompile(`(?i)holder\s+(distribution|analysis|concentration)|top\s+holders|token\s+distribution`), TypeTokenAnalysis},
}

func matchFallback(raw string) (string, bool) {
	for _, p := range fallbackPatterns {
		if p.re.MatchString(raw) {
			return p.typ, true
		}
	}
	return "", false
}

func removeSpans(raw string, spans []span) string {
	if len(spans) == 0 {
		return strings.TrimSpace(raw)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	b.Grow(len(raw))
	cur := 0
	for _, s := range spans {
		if s.start > cur {
			b.WriteString(raw[cur:s.start])
		}
		if s.end > cur {
			cur = s.end
		}
	}
	if cur < len(raw) {
		b.WriteString(raw[cur:])
	}
	return strings.TrimSpace(b.String())
}
