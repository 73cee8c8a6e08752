package risk

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Allocator 把可用保证金预算换算为可下单数量。
// 每次调用互不影响，跨交易对的占用由调度器负责。
type Allocator struct {
	logger *zap.Logger
}

// NewAllocator 创建仓位分配器。
func NewAllocator(logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{logger: logger}
}

// Allocate 计算开仓数量。返回的数量要么为零，要么是步长的整数倍，
// 且数量×价格/杠杆不超过单笔保证金上限。
func (a *Allocator) Allocate(req AllocationRequest) Allocation {
	if req.Balance <= 0 || req.EntryPrice <= 0 || req.Leverage <= 0 || req.Instrument.StepSize <= 0 {
		return Allocation{Reason: RejectInvalidInput}
	}

	balance := decimal.NewFromFloat(req.Balance)
	price := decimal.NewFromFloat(req.EntryPrice)
	leverage := decimal.NewFromInt(int64(req.Leverage))
	step := decimal.NewFromFloat(req.Instrument.StepSize)

	availablePct := decimal.NewFromFloat(clampPct(req.AvailableMarginPct))
	capPct := decimal.NewFromFloat(clampPct(req.PerTradeCapPct))

	maxMargin := decimal.Min(
		balance.Mul(availablePct).Div(hundred),
		balance.Mul(capPct).Div(hundred),
	)
	result := Allocation{MaxMargin: maxMargin.InexactFloat64()}

	// 预算以名义价值表示，比较时只用乘法避免除法舍入
	budget := maxMargin.Mul(leverage)
	maxQty := budget.Div(price)

	minQty := a.minimumQuantity(req, price, step)
	if minQty.Mul(price).GreaterThan(budget) {
		minMargin := minQty.Mul(price).Div(leverage)
		result.Reason = RejectBelowMinimumValue
		a.logger.Debug("单笔保证金不足以覆盖最小下单价值",
			zap.String("symbol", req.Instrument.Symbol),
			zap.String("max_margin", maxMargin.StringFixed(4)),
			zap.String("min_margin", minMargin.StringFixed(4)),
		)
		return result
	}

	qty := maxQty
	if qty.LessThan(minQty) {
		qty = minQty
	}

	qty = floorToStep(qty, step)
	// 除法按 16 位有效数字舍入，商略低于步长倍数时可能被进位，逐步回退到预算以内
	for qty.IsPositive() && qty.Mul(price).GreaterThan(budget) {
		qty = qty.Sub(step)
	}
	if qty.LessThan(minQty) || !qty.IsPositive() {
		result.Reason = RejectFlooredToZero
		return result
	}

	margin := qty.Mul(price).Div(leverage)
	if margin.GreaterThan(balance) {
		result.Reason = RejectExceedsBalance
		return result
	}

	result.Quantity = qty
	result.Margin = margin.InexactFloat64()
	return result
}

// minimumQuantity 返回满足最小数量与最小名义价值的最小步长倍数。
func (a *Allocator) minimumQuantity(req AllocationRequest, price, step decimal.Decimal) decimal.Decimal {
	minQty := decimal.NewFromFloat(req.Instrument.MinQty)
	if cfgMin := decimal.NewFromFloat(req.MinPositionSize); cfgMin.GreaterThan(minQty) {
		minQty = cfgMin
	}
	if req.Instrument.MinNotional > 0 {
		byNotional := decimal.NewFromFloat(req.Instrument.MinNotional).Div(price)
		if byNotional.GreaterThan(minQty) {
			minQty = byNotional
		}
	}
	return ceilToStep(minQty, step)
}

// FloorToStep 将数量向零取整到步长整数倍。
func FloorToStep(qty, step float64) decimal.Decimal {
	if step <= 0 {
		return decimal.NewFromFloat(qty)
	}
	return floorToStep(decimal.NewFromFloat(qty), decimal.NewFromFloat(step))
}

func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Floor().Mul(step)
}

func ceilToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Ceil().Mul(step)
}

func clampPct(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
