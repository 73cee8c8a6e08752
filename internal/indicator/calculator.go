package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// Params 控制 RSI 与均线交叉参数。
type Params struct {
	RSIPeriod     int
	SMAShort      int
	SMALong       int
	RSIOversold   float64
	RSIOverbought float64
}

// DefaultParams 返回默认指标参数。
func DefaultParams() Params {
	return Params{
		RSIPeriod:     14,
		SMAShort:      10,
		SMALong:       20,
		RSIOversold:   30,
		RSIOverbought: 70,
	}
}

// Analysis 为一次收盘价窗口的指标快照。
type Analysis struct {
	Price        float64
	RSI          float64
	SMAShort     float64
	SMALong      float64
	Oversold     bool
	Overbought   bool
	BullishCross bool
	BearishCross bool
	AboveShort   bool
	AboveLong    bool
}

// Analyze 计算 RSI、短长均线及其交叉。
func Analyze(closes []float64, p Params) (Analysis, error) {
	required := max(p.SMALong, p.RSIPeriod+1)
	if len(closes) < required {
		return Analysis{}, fmt.Errorf("indicator: 收盘价不足，需要 %d 根，实际 %d 根", required, len(closes))
	}

	rsi := talib.Rsi(closes, p.RSIPeriod)
	smaShort := talib.Sma(closes, p.SMAShort)
	smaLong := talib.Sma(closes, p.SMALong)

	price := Last(closes)
	curShort, curLong := Last(smaShort), Last(smaLong)
	prevShort, prevLong := Prev(smaShort), Prev(smaLong)
	if len(closes) == p.SMALong {
		// 只有一根有效长均线时不存在交叉
		prevShort, prevLong = curShort, curLong
	}

	a := Analysis{
		Price:    price,
		RSI:      Last(rsi),
		SMAShort: curShort,
		SMALong:  curLong,
	}
	if !valid(a.RSI, curShort, curLong, prevShort, prevLong) {
		return Analysis{}, fmt.Errorf("indicator: 指标计算结果无效")
	}

	a.Oversold = a.RSI < p.RSIOversold
	a.Overbought = a.RSI > p.RSIOverbought
	a.BullishCross = prevShort <= prevLong && curShort > curLong
	a.BearishCross = prevShort >= prevLong && curShort < curLong
	a.AboveShort = price > curShort
	a.AboveLong = price > curLong
	return a, nil
}
