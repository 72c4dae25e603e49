package agent

import (
	"fmt"
	"sort"
	"strings"

	"majorgainz/internal/agent/persona"
	"majorgainz/internal/portfolio"
)

// componentGuide 告诉模型如何在回复里内嵌可视化组件标记。
// 标记会在服务端被剥离并转成前端组件指令，不会原样展示给用户。
const componentGuide = `When a chart would help the user, embed a component marker in your reply:
[CHART_COMPONENT:{"type":"<component-type>","props":{...},"position":"above|inline|below"}]

Available component types:
- portfolio-chart: allocation of the user's holdings
- returns-chart: token return and volatility comparison
- defi-heatmap: DeFi opportunity and risk overview
- correlation-matrix: pairwise correlation of held tokens
- token-analysis: deep dive on a single token (props: {"token":"SYMBOL"})

Use at most two markers per reply. Plain text around the marker is shown as-is.`

// buildSystemPrompt 组装系统提示词：人设 + 组件标记说明 + 组合上下文 + 草稿板。
func buildSystemPrompt(tpl persona.Template, portfolioCtx map[string]any, contextNote, scratchpad string) string {
	var b strings.Builder
	base := strings.TrimSpace(tpl.SystemPrompt)
	if base == "" {
		base = "You are Major Gainz, a portfolio analysis assistant for the Hedera ecosystem."
	}
	b.WriteString(base)
	b.WriteString("\n\n")
	b.WriteString(componentGuide)

	if len(portfolioCtx) > 0 {
		b.WriteString("\n\n## User portfolio\n")
		b.WriteString(formatPortfolioContext(portfolioCtx))
	} else if contextNote != "" {
		b.WriteString("\n\nNote: ")
		b.WriteString(contextNote)
	}
	if s := strings.TrimSpace(scratchpad); s != "" {
		b.WriteString("\n\n## Conversation scratchpad\n")
		b.WriteString(s)
	}
	return b.String()
}

// maxPromptHoldings 提示词里最多列出的持仓数，长尾合并为 others。
const maxPromptHoldings = 10

// formatPortfolioContext 将前端/服务端组合上下文压缩为模型可读的文本。
// 字段名兼容 camelCase 与 snake_case。
func formatPortfolioContext(ctx map[string]any) string {
	var b strings.Builder
	if v := firstField(ctx, "accountId", "account_id", "address"); v != "" {
		fmt.Fprintf(&b, "Account: %s\n", v)
	}
	if v, ok := firstNumber(ctx, "totalUsd", "total_usd", "totalValueUsd"); ok {
		fmt.Fprintf(&b, "Total value: $%.2f\n", v)
	}
	holdings := holdingRows(ctx)
	if len(holdings) == 0 {
		return b.String()
	}
	sort.SliceStable(holdings, func(i, j int) bool { return holdings[i].value > holdings[j].value })
	b.WriteString("Holdings:\n")
	for i, h := range holdings {
		if i >= maxPromptHoldings {
			fmt.Fprintf(&b, "- ... and %d more\n", len(holdings)-maxPromptHoldings)
			break
		}
		line := fmt.Sprintf("- %s: %.4f", h.symbol, h.amount)
		if h.value > 0 {
			line += fmt.Sprintf(" ($%.2f", h.value)
			if h.percent > 0 {
				line += fmt.Sprintf(", %.1f%%", h.percent)
			}
			line += ")"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

type holdingRow struct {
	symbol  string
	amount  float64
	value   float64
	percent float64
}

func holdingRows(ctx map[string]any) []holdingRow {
	raw, ok := ctx["holdings"]
	if !ok {
		raw = ctx["tokens"]
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]holdingRow, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := holdingRow{symbol: firstField(m, "symbol", "token")}
		if row.symbol == "" {
			continue
		}
		row.amount, _ = firstNumber(m, "amount", "balance")
		row.value, _ = firstNumber(m, "valueUsd", "value_usd", "usdValue")
		row.percent, _ = firstNumber(m, "percent", "percentage")
		out = append(out, row)
	}
	return out
}

func firstField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}

// portfolioToContext 服务端自取组合时转换成与前端一致的上下文结构。
func portfolioToContext(p *portfolio.Portfolio) map[string]any {
	if p == nil {
		return nil
	}
	holdings := make([]any, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		holdings = append(holdings, map[string]any{
			"symbol":   h.Symbol,
			"amount":   h.Amount,
			"valueUsd": h.ValueUSD,
			"percent":  h.Percent,
		})
	}
	return map[string]any{
		"accountId": p.AccountID,
		"totalUsd":  p.TotalUSD,
		"holdings":  holdings,
	}
}
