package ai

import (
	"bytes"
	"fmt"
	"text/template"

	"asterbot/internal/indicator"
	"asterbot/internal/signal"
)

const signalTemplate = `
你是一个专业的加密货币短线交易员。请根据 {{ .Symbol }} 最近的收盘价序列判断下一步方向。

最新价格: {{ printf "%.6f" .Price }}
最近 {{ len .Closes }} 根K线收盘价（由旧到新）:
{{ .ClosesText }}
{{- if .HasAnalysis }}

参考指标：
- RSI: {{ printf "%.2f" .Analysis.RSI }}
- 短均线: {{ printf "%.6f" .Analysis.SMAShort }}
- 长均线: {{ printf "%.6f" .Analysis.SMALong }}
{{- end }}

要求：
1. 只在趋势与动量明确时给出 BUY 或 SELL，否则返回 HOLD；
2. confidence 反映把握程度，不确定时降低；
3. 严格输出唯一的 JSON 对象，格式如下：
{"action": "BUY|SELL|HOLD", "confidence": 0.0-1.0, "reasoning": "..."}
`

var tmpl = template.Must(template.New("signal").Parse(signalTemplate))

type promptContext struct {
	signal.Request
	ClosesText  string
	Analysis    indicator.Analysis
	HasAnalysis bool
}

// BuildPrompt 将行情窗口渲染成提示词，窗口足够长时附带指标参考值。
func BuildPrompt(req signal.Request) (string, error) {
	ctx := promptContext{Request: req}

	var closes bytes.Buffer
	for i, c := range req.Closes {
		if i > 0 {
			closes.WriteString(", ")
		}
		fmt.Fprintf(&closes, "%.6f", c)
	}
	ctx.ClosesText = closes.String()

	if analysis, err := indicator.Analyze(req.Closes, indicator.DefaultParams()); err == nil {
		ctx.Analysis = analysis
		ctx.HasAnalysis = true
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("ai: 渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
