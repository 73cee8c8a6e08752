package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultStepSize 在交易所未返回 LOT_SIZE 时使用。
	DefaultStepSize = 0.001
	// DefaultMinNotional 在交易所未返回 MIN_NOTIONAL 时使用。
	DefaultMinNotional = 5.0
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Instrument 为单个合约的数量精度与最小下单约束。
type Instrument struct {
	Symbol      string
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// DefaultInstrument 返回过滤器缺失时使用的保守约束。
func DefaultInstrument(symbol string, minQty float64) Instrument {
	if minQty <= 0 {
		minQty = DefaultStepSize
	}
	return Instrument{
		Symbol:      symbol,
		StepSize:    DefaultStepSize,
		MinQty:      minQty,
		MinNotional: DefaultMinNotional,
	}
}

// Balance 描述保证金资产余额。
type Balance struct {
	Asset     string
	Wallet    float64
	Available float64
}

// PositionSnapshot 为交易所上报的单个持仓，Amount 带符号，正数为多头。
type PositionSnapshot struct {
	Symbol        string
	Amount        float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// OrderRequest 描述一笔市价委托。
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult 为委托回执。
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	ExecutedQty   float64
	AvgPrice      float64
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketSnapshot 为单个交易对一次决策所需的行情。
type MarketSnapshot struct {
	Symbol      string
	Price       float64
	Closes      []float64
	RetrievedAt time.Time
}
