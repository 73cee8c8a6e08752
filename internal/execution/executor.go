package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"asterbot/internal/exchange"
	"asterbot/internal/position"
)

var _ position.Executor = (*Executor)(nil)

// Executor 构造市价委托并单次提交。下单不做自动重试，避免网络超时后重复成交。
type Executor struct {
	client OrderPlacer
	logger *zap.Logger
	newID  func() string
}

// NewExecutor 创建执行器。
func NewExecutor(client OrderPlacer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client: client,
		logger: logger,
		newID:  newClientOrderID,
	}
}

// Submit 提交一笔市价单，reduceOnly 用于平仓。
func (e *Executor) Submit(ctx context.Context, symbol string, side exchange.OrderSide, qty decimal.Decimal, reduceOnly bool) (exchange.OrderResult, error) {
	req, err := buildOrderRequest(symbol, side, qty, reduceOnly, e.newID())
	if err != nil {
		return exchange.OrderResult{}, err
	}

	result, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Warn("下单失败",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("quantity", req.Quantity.String()),
			zap.Bool("reduce_only", reduceOnly),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err),
		)
		return exchange.OrderResult{}, fmt.Errorf("execution: 下单失败: %w", err)
	}
	if result.ClientOrderID == "" {
		result.ClientOrderID = req.ClientOrderID
	}

	e.logger.Info("下单成功",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("quantity", req.Quantity.String()),
		zap.Bool("reduce_only", reduceOnly),
		zap.String("order_id", result.OrderID),
		zap.String("status", result.Status),
	)
	return result, nil
}

func buildOrderRequest(symbol string, side exchange.OrderSide, qty decimal.Decimal, reduceOnly bool, clientID string) (exchange.OrderRequest, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return exchange.OrderRequest{}, errors.New("execution: symbol 不能为空")
	}
	if side != exchange.OrderSideBuy && side != exchange.OrderSideSell {
		return exchange.OrderRequest{}, fmt.Errorf("execution: 不支持的下单方向 %q", side)
	}
	if !qty.IsPositive() {
		return exchange.OrderRequest{}, fmt.Errorf("execution: 下单数量无效 %s", qty.String())
	}

	return exchange.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		ReduceOnly:    reduceOnly,
		ClientOrderID: clientID,
	}, nil
}

func newClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
