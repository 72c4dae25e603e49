package component

import (
	"encoding/json"
	"strings"
)

// Draft 一条尚未校验的组件指令（来自某个文法匹配或程序化构造）。
type Draft struct {
	ID       string   `json:"id,omitempty"`
	Type     string   `json:"type"`
	Props    Props    `json:"props,omitempty"`
	Position string   `json:"position,omitempty"`
	Title    string   `json:"title,omitempty"`
	Height   *float64 `json:"height,omitempty"`
}

// Sanitize 将 Draft 规整为完整指令：补齐 id、position、title 默认值。
// type 不在封闭集合内时返回 nil。除类型外不做任何语义校验。
func Sanitize(d Draft, nextID IDSource) *Instruction {
	typ := strings.TrimSpace(d.Type)
	if !KnownType(typ) {
		return nil
	}
	if nextID == nil {
		nextID = DefaultID
	}
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = nextID()
	}
	props := d.Props
	if props == nil {
		props = Props{}
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = DefaultTitle(typ)
	}
	return &Instruction{
		ID:       id,
		Type:     typ,
		Props:    props,
		Position: sanitizePosition(d.Position),
		Title:    title,
		Height:   d.Height,
	}
}

func sanitizePosition(raw string) Position {
	switch Position(strings.TrimSpace(raw)) {
	case PositionAbove:
		return PositionAbove
	case PositionInline:
		return PositionInline
	case PositionBelow:
		return PositionBelow
	default:
		return PositionBelow
	}
}

// NormalizeProps 只保留封闭变体（string/float64/bool/嵌套对象），
// 数组与 null 直接丢弃。嵌套对象递归处理。
func NormalizeProps(in map[string]any) Props {
	out := make(Props, len(in))
	for k, v := range in {
		if nv, ok := normalizeValue(v); ok {
			out[k] = nv
		}
	}
	return out
}

func normalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return x, true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case map[string]any:
		return map[string]any(NormalizeProps(x)), true
	case Props:
		return map[string]any(NormalizeProps(x)), true
	default:
		return nil, false
	}
}
