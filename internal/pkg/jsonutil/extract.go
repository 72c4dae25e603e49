package jsonutil

import "strings"

// ScanObjectAt 从 s[start]（必须是 '{'）开始扫描一个平衡的 JSON 对象，
// 返回对象结束后的下标（即 '}' 之后的位置）。扫描会跳过字符串与转义，
// 字符串内部的括号字面量不会干扰配平。对象未闭合时返回 ok=false。
func ScanObjectAt(s string, start int) (int, bool) {
	if start < 0 || start >= len(s) || s[start] != '{' {
		return -1, false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return -1, false
}

// ExtractObject 提取首个平衡的 JSON 对象，返回对象文本、起始下标与是否成功。
func ExtractObject(raw string) (string, int, bool) {
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", -1, false
	}
	end, ok := ScanObjectAt(raw, start)
	if !ok {
		return "", -1, false
	}
	return strings.TrimSpace(raw[start:end]), start, true
}
