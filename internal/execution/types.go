package execution

import (
	"context"

	"asterbot/internal/exchange"
)

// OrderPlacer 为执行器所需的下单接口。
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
}

// clientOrderPrefix 标识本程序提交的委托，总长度不超过交易所 36 字符限制。
const clientOrderPrefix = "ab"
