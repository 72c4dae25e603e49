package component

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() IDSource {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("test-%d", n)
	}
}

func TestParsePlainText(t *testing.T) {
	p := NewParser(seqIDs())
	res := p.Parse("  No markers here, just prose.  ")
	assert.Empty(t, res.Components)
	assert.Equal(t, "No markers here, just prose.", res.Text)
}

func TestParseSimpleMarker(t *testing.T) {
	p := NewParser(seqIDs())
	res := p.Parse("Here is your split. [CHART:portfolio-chart]")

	assert.Equal(t, "Here is your split.", res.Text)
	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypePortfolioChart, inst.Type)
	assert.Equal(t, Props{}, inst.Props)
	assert.Equal(t, PositionBelow, inst.Position)
	assert.Equal(t, "Portfolio Allocation", inst.Title)
	assert.Equal(t, "test-1", inst.ID)
}

func TestParseStructuredMarker(t *testing.T) {
	p := NewParser(seqIDs())
	res := p.Parse(`[CHART_COMPONENT:{"type":"defi-heatmap","position":"above"}]Opportunities below.`)

	assert.Equal(t, "Opportunities below.", res.Text)
	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypeDefiHeatmap, inst.Type)
	assert.Equal(t, PositionAbove, inst.Position)
	assert.Equal(t, "DeFi Opportunities", inst.Title)
	assert.Equal(t, Props{}, inst.Props)
}

func TestParseStructuredMarkerFields(t *testing.T) {
	p := NewParser(seqIDs())
	raw := `Look: [CHART_COMPONENT:{"id":"explicit-1","type":"returns-chart","title":"My Returns","height":420,"props":{"days":90,"annualized":true,"label":"vol"}}]`
	res := p.Parse(raw)

	assert.Equal(t, "Look:", res.Text)
	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, "explicit-1", inst.ID)
	assert.Equal(t, "My Returns", inst.Title)
	require.NotNil(t, inst.Height)
	assert.Equal(t, 420.0, *inst.Height)
	assert.Equal(t, Props{"days": 90.0, "annualized": true, "label": "vol"}, inst.Props)
}

func TestParseStructuredMalformed(t *testing.T) {
	p := NewParser(seqIDs())
	raw := `[CHART_COMPONENT:{broken json`
	res := p.Parse(raw)

	assert.Empty(t, res.Components)
	assert.Equal(t, raw, res.Text)
}

func TestParseStructuredInvalidJSONLeftInPlace(t *testing.T) {
	// 括号配平但不是合法 JSON：标记必须原样留在文本里
	p := NewParser(seqIDs())
	raw := `before [CHART_COMPONENT:{broken}] after`
	res := p.Parse(raw)

	assert.Empty(t, res.Components)
	assert.Equal(t, raw, res.Text)
}

func TestParseUnknownTypeStripped(t *testing.T) {
	// 剥离标记后只修剪首尾空白，内部的双空格有意保留。
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"basic", "[COMPONENT:unknown-widget] rest of text", "rest of text"},
		{"simple", "lead [CHART:unknown-widget] tail", "lead  tail"},
		{"structured", `lead [CHART_COMPONENT:{"type":"unknown-widget"}] tail`, "lead  tail"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewParser(seqIDs()).Parse(tc.in)
			assert.Empty(t, res.Components)
			assert.Equal(t, tc.out, res.Text)
		})
	}
}

func TestParseMultipleMarkersOrdering(t *testing.T) {
	p := NewParser(seqIDs())
	raw := `Start [COMPONENT:token-analysis] middle [CHART_COMPONENT:{"type":"portfolio-chart"}] end.`
	res := p.Parse(raw)

	require.Len(t, res.Components, 2)
	// 文法优先级：结构化标记先于基础标记，哪怕它在文本中靠后
	assert.Equal(t, TypePortfolioChart, res.Components[0].Type)
	assert.Equal(t, TypeTokenAnalysis, res.Components[1].Type)
	assert.Equal(t, "Start  middle  end.", res.Text)
}

func TestParseRepeatedStructuredMarkers(t *testing.T) {
	p := NewParser(seqIDs())
	raw := `[CHART_COMPONENT:{"type":"portfolio-chart"}] and [CHART_COMPONENT:{"type":"correlation-matrix"}]`
	res := p.Parse(raw)

	require.Len(t, res.Components, 2)
	assert.Equal(t, TypePortfolioChart, res.Components[0].Type)
	assert.Equal(t, TypeCorrelationMatrix, res.Components[1].Type)
	assert.Equal(t, "and", res.Text)
}

func TestParseSimpleMarkerParams(t *testing.T) {
	p := NewParser(seqIDs())
	res := p.Parse(`[CHART:returns-chart:days=90,annualized=true,label="vol",position=above]`)

	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypeReturnsChart, inst.Type)
	assert.Equal(t, PositionAbove, inst.Position)
	assert.Equal(t, Props{"days": 90.0, "annualized": true, "label": "vol"}, inst.Props)
	assert.Empty(t, res.Text)
}

func TestParseSimpleMarkerJSONParams(t *testing.T) {
	p := NewParser(seqIDs())
	res := p.Parse(`[CHART:defi-heatmap:{"props":{"minApy":5},"position":"inline","title":"Yields"}] done`)

	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypeDefiHeatmap, inst.Type)
	assert.Equal(t, PositionInline, inst.Position)
	assert.Equal(t, "Yields", inst.Title)
	assert.Equal(t, Props{"minApy": 5.0}, inst.Props)
	assert.Equal(t, "done", res.Text)
}

func TestParseSimpleMarkerUnclosedJSONParamsLeftInPlace(t *testing.T) {
	// 参数以 '{' 开头却未闭合时 ']' 边界无法确定，整个标记原样保留，
	// 不回退为 k=v 解析。
	p := NewParser(seqIDs())
	raw := `intro [CHART:portfolio-chart:{unbalanced closing`
	res := p.Parse(raw)

	assert.Empty(t, res.Components)
	assert.Equal(t, raw, res.Text)
}

func TestFallbackSuppressedByExplicitMarker(t *testing.T) {
	p := NewParser(seqIDs())
	raw := "Here is the portfolio breakdown you asked for. [CHART:legacy-portfolio-chart]"
	res := p.Parse(raw)

	require.Len(t, res.Components, 1)
	assert.Equal(t, TypeLegacyPortfolioChart, res.Components[0].Type)
	assert.Equal(t, "Portfolio Chart", res.Components[0].Title)
}

func TestFallbackSingleMatch(t *testing.T) {
	p := NewParser(seqIDs())
	raw := "Let's look at a defi heatmap of your opportunities."
	res := p.Parse(raw)

	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypeDefiHeatmap, inst.Type)
	assert.Equal(t, Props{}, inst.Props)
	assert.Equal(t, "DeFi Opportunities", inst.Title)
	// 兜底命中的是描述性语言，不剥离
	assert.Equal(t, raw, res.Text)
}

func TestFallbackFirstPatternWins(t *testing.T) {
	p := NewParser(seqIDs())
	raw := "Your portfolio allocation drives the returns and volatility picture."
	res := p.Parse(raw)

	require.Len(t, res.Components, 1)
	assert.Equal(t, TypePortfolioChart, res.Components[0].Type)
}

func TestRoundTrip(t *testing.T) {
	props := Props{"days": 30.0, "benchmark": "HBAR", "stacked": true}
	raw := AppendMarker("Here is the picture.", TypeReturnsChart, props, PositionInline)
	res := NewParser(seqIDs()).Parse(raw)

	assert.Equal(t, "Here is the picture.", res.Text)
	require.Len(t, res.Components, 1)
	inst := res.Components[0]
	assert.Equal(t, TypeReturnsChart, inst.Type)
	assert.Equal(t, PositionInline, inst.Position)
	assert.Equal(t, props, inst.Props)
}

func TestRoundTripEmptyText(t *testing.T) {
	raw := AppendMarker("", TypePortfolioChart, nil, PositionBelow)
	res := NewParser(seqIDs()).Parse(raw)

	assert.Empty(t, res.Text)
	require.Len(t, res.Components, 1)
	assert.Equal(t, TypePortfolioChart, res.Components[0].Type)
	assert.Equal(t, Props{}, res.Components[0].Props)
}

func TestParseMalformedAndValidMix(t *testing.T) {
	p := NewParser(seqIDs())
	raw := `[CHART_COMPONENT:{oops] keep going [COMPONENT:token-analysis]`
	res := p.Parse(raw)

	require.Len(t, res.Components, 1)
	assert.Equal(t, TypeTokenAnalysis, res.Components[0].Type)
	// 坏标记原样保留，好标记剥离
	assert.Equal(t, "[CHART_COMPONENT:{oops] keep going", res.Text)
}

func TestParseConcurrentSafe(t *testing.T) {
	p := NewParser(nil)
	done := make(chan Result, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- p.Parse("Split below. [CHART:portfolio-chart]")
		}()
	}
	for i := 0; i < 8; i++ {
		res := <-done
		require.Len(t, res.Components, 1)
		assert.Equal(t, "Split below.", res.Text)
	}
}
