package signal

import (
	"context"
	"math"

	"asterbot/internal/indicator"
)

const (
	perSignalConfidence = 0.5
	trendBonus          = 0.2
)

// IndicatorProvider 以 RSI 超买超卖和均线交叉生成信号。
type IndicatorProvider struct {
	params indicator.Params
}

// NewIndicatorProvider 创建指标信号源。
func NewIndicatorProvider(params indicator.Params) *IndicatorProvider {
	return &IndicatorProvider{params: params}
}

// Evaluate 每个同向信号贡献 0.5 置信度，价格位于两条均线同侧时再加 0.2，上限为 1。
// 多空信号同时出现时观望。
func (p *IndicatorProvider) Evaluate(_ context.Context, req Request) (Signal, error) {
	analysis, err := indicator.Analyze(req.Closes, p.params)
	if err != nil {
		return Signal{}, err
	}

	var buys, sells []string
	if analysis.Oversold {
		buys = append(buys, "RSI_OVERSOLD")
	}
	if analysis.BullishCross {
		buys = append(buys, "SMA_BULLISH_CROSS")
	}
	if analysis.Overbought {
		sells = append(sells, "RSI_OVERBOUGHT")
	}
	if analysis.BearishCross {
		sells = append(sells, "SMA_BEARISH_CROSS")
	}

	switch {
	case len(buys) > 0 && len(sells) == 0:
		confidence := float64(len(buys)) * perSignalConfidence
		if analysis.AboveShort && analysis.AboveLong {
			confidence += trendBonus
		}
		return Signal{Action: ActionBuy, Confidence: math.Min(confidence, 1), Reasons: buys}, nil
	case len(sells) > 0 && len(buys) == 0:
		confidence := float64(len(sells)) * perSignalConfidence
		if !analysis.AboveShort && !analysis.AboveLong {
			confidence += trendBonus
		}
		return Signal{Action: ActionSell, Confidence: math.Min(confidence, 1), Reasons: sells}, nil
	default:
		return Hold(append(buys, sells...)...), nil
	}
}
