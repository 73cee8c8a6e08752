package position

// ROE 返回杠杆后的收益率百分比。
func ROE(side Side, entry, price float64, leverage int) float64 {
	return PricePnLPct(side, entry, price) * float64(leverage)
}

// PricePnLPct 返回未乘杠杆的价格变动百分比。
func PricePnLPct(side Side, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	switch side {
	case SideLong:
		return (price/entry - 1) * 100
	case SideShort:
		return (1 - price/entry) * 100
	default:
		panic("position: 非法方向")
	}
}

// GrossPnL 返回未扣手续费的方向性盈亏。
func GrossPnL(side Side, entry, exit, qty float64) float64 {
	return (exit - entry) * qty * side.Sign()
}

// Fee 返回单边手续费，feePct 为百分比。
func Fee(notional, feePct float64) float64 {
	return notional * feePct / 100
}

// NetPnL 返回扣除开平两侧手续费后的净盈亏。
func NetPnL(side Side, entry, exit, qty, feePct float64) float64 {
	return GrossPnL(side, entry, exit, qty) - Fee(entry*qty, feePct) - Fee(exit*qty, feePct)
}

// Targets 按 ROE 百分比计算价格空间的止盈与止损。
func Targets(side Side, entry, takeProfitPct, stopLossPct float64) (takeProfit, stopLoss float64) {
	switch side {
	case SideLong:
		return entry * (1 + takeProfitPct/100), entry * (1 - stopLossPct/100)
	case SideShort:
		return entry * (1 - takeProfitPct/100), entry * (1 + stopLossPct/100)
	default:
		panic("position: 非法方向")
	}
}
