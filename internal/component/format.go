package component

import (
	"encoding/json"
	"strings"
)

// AppendMarker 生产端逆操作：在展示文本后追加结构化标记。
// 与 Parse 构成往返：解析结果的 type/props/position 与入参一致。
func AppendMarker(text, typ string, props Props, position Position) string {
	if props == nil {
		props = Props{}
	}
	payload := map[string]any{
		"type":  typ,
		"props": props,
	}
	if position != "" {
		payload["position"] = string(position)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return strings.TrimSpace(text)
	}
	marker := markerStructured + string(raw) + "]"
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return marker
	}
	return trimmed + "\n\n" + marker
}
