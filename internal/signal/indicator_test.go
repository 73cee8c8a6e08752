package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asterbot/internal/indicator"
)

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func crossing() []float64 {
	closes := make([]float64, 0, 36)
	for i := 0; i < 30; i++ {
		v := 100 - 0.1*float64(i)
		if i%2 == 1 {
			v += 0.5
		} else {
			v -= 0.5
		}
		closes = append(closes, v)
	}
	last := closes[len(closes)-1]
	for j := 1; j <= 6; j++ {
		closes = append(closes, last+0.3*float64(j))
	}
	return closes
}

func TestIndicatorProviderOversoldBuys(t *testing.T) {
	p := NewIndicatorProvider(indicator.DefaultParams())
	sig, err := p.Evaluate(context.Background(), Request{Symbol: "BTCUSDT", Closes: ramp(200, -1, 50)})
	require.NoError(t, err)

	assert.Equal(t, ActionBuy, sig.Action)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"RSI_OVERSOLD"}, sig.Reasons)
}

func TestIndicatorProviderOverboughtSells(t *testing.T) {
	p := NewIndicatorProvider(indicator.DefaultParams())
	sig, err := p.Evaluate(context.Background(), Request{Symbol: "BTCUSDT", Closes: ramp(100, 1, 50)})
	require.NoError(t, err)

	// 价格位于均线上方，空头不加趋势分
	assert.Equal(t, ActionSell, sig.Action)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
}

func TestIndicatorProviderCrossWithTrendBonus(t *testing.T) {
	p := NewIndicatorProvider(indicator.DefaultParams())
	sig, err := p.Evaluate(context.Background(), Request{Symbol: "BTCUSDT", Closes: crossing()})
	require.NoError(t, err)

	assert.Equal(t, ActionBuy, sig.Action)
	assert.InDelta(t, 0.7, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"SMA_BULLISH_CROSS"}, sig.Reasons)
}

func TestIndicatorProviderPropagatesShortHistory(t *testing.T) {
	p := NewIndicatorProvider(indicator.DefaultParams())
	_, err := p.Evaluate(context.Background(), Request{Closes: ramp(1, 1, 5)})
	require.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" buy ")
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, a)

	_, err = ParseAction("LONG")
	require.Error(t, err)
}
