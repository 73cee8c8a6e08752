package position

import (
	"fmt"

	"asterbot/internal/exchange"
	"asterbot/internal/signal"
)

// Side 为持仓方向，只有 SideLong 与 SideShort 两个合法值。
// 零值非法，任何符号相关计算遇到非法值都会 panic。
type Side int

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		panic(fmt.Sprintf("position: 非法方向 %d", int(s)))
	}
}

// Sign 多头为 +1，空头为 -1。
func (s Side) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		panic(fmt.Sprintf("position: 非法方向 %d", int(s)))
	}
}

// OpenOrderSide 返回开仓所用的下单方向。
func (s Side) OpenOrderSide() exchange.OrderSide {
	switch s {
	case SideLong:
		return exchange.OrderSideBuy
	case SideShort:
		return exchange.OrderSideSell
	default:
		panic(fmt.Sprintf("position: 非法方向 %d", int(s)))
	}
}

// CloseOrderSide 返回平仓所用的反向下单方向。
func (s Side) CloseOrderSide() exchange.OrderSide {
	switch s {
	case SideLong:
		return exchange.OrderSideSell
	case SideShort:
		return exchange.OrderSideBuy
	default:
		panic(fmt.Sprintf("position: 非法方向 %d", int(s)))
	}
}

// SideFromAmount 由交易所带符号持仓数量推断方向，零数量返回 false。
func SideFromAmount(amount float64) (Side, bool) {
	switch {
	case amount > 0:
		return SideLong, true
	case amount < 0:
		return SideShort, true
	default:
		return 0, false
	}
}

func sideFromAction(action signal.Action) (Side, bool) {
	switch action {
	case signal.ActionBuy:
		return SideLong, true
	case signal.ActionSell:
		return SideShort, true
	default:
		return 0, false
	}
}
