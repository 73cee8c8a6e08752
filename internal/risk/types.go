package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"asterbot/internal/exchange"
)

// RejectReason 说明分配器返回零数量的原因。
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectInvalidInput      RejectReason = "invalid_input"
	RejectBelowMinimumValue RejectReason = "below_minimum_value"
	RejectFlooredToZero     RejectReason = "floored_below_minimum"
	RejectExceedsBalance    RejectReason = "exceeds_balance"
)

// AllocationRequest 为单次仓位计算的输入。
type AllocationRequest struct {
	Balance            float64
	AvailableMarginPct float64
	PerTradeCapPct     float64
	Leverage           int
	EntryPrice         float64
	MinPositionSize    float64
	Instrument         exchange.Instrument
}

// Allocation 为仓位计算结果，Quantity 为零表示拒绝。
type Allocation struct {
	Quantity  decimal.Decimal
	Margin    float64
	MaxMargin float64
	Reason    RejectReason
}

// Rejected 表示未分配任何数量。
func (a Allocation) Rejected() bool {
	return a.Quantity.IsZero()
}

// Exposure 为单个交易对的持仓占用。Amount 带符号。
type Exposure struct {
	Symbol     string
	Amount     float64
	EntryPrice float64
	Leverage   int
}

// Margin 返回该持仓占用的保证金。
func (e Exposure) Margin() float64 {
	if e.Amount == 0 || e.Leverage <= 0 {
		return 0
	}
	amount := e.Amount
	if amount < 0 {
		amount = -amount
	}
	return amount * e.EntryPrice / float64(e.Leverage)
}

// Budget 为每个周期重新计算的保证金预算。
type Budget struct {
	Balance            float64
	CommittedMargin    float64
	AvailableMarginPct float64
	ActivePositions    int
	ComputedAt         time.Time
}
