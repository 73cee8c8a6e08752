package reconcile

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"asterbot/internal/exchange"
	"asterbot/internal/monitor"
	"asterbot/internal/position"
)

// quantityTolerance 以下的数量差异视为浮点误差。
const quantityTolerance = 1e-12

// Action 为一次对账产生的变更。
type Action string

const (
	ActionUnchanged       Action = "unchanged"
	ActionAdopted         Action = "adopted"
	ActionRefreshed       Action = "refreshed"
	ActionClearedExternal Action = "cleared_external"
)

// PositionSource 为对账所需的交易所读接口。
type PositionSource interface {
	Positions(ctx context.Context, symbol string) ([]exchange.PositionSnapshot, error)
}

// Outcome 为单个交易对的对账结果。Found 为 false 表示交易所无持仓。
type Outcome struct {
	Symbol   string
	Action   Action
	Found    bool
	Exchange exchange.PositionSnapshot
}

// Engine 以交易所持仓为准修正本地状态机。
type Engine struct {
	source PositionSource
	sink   monitor.Sink
	logger *zap.Logger
}

// NewEngine 创建对账引擎。
func NewEngine(source PositionSource, sink monitor.Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = monitor.Sinks(nil)
	}
	return &Engine{source: source, sink: sink, logger: logger}
}

// Reconcile 拉取交易所持仓并与本地状态比较：
// 交易所有本地无则接管，两边都有则刷新未实现盈亏，交易所无本地有则清除且不记录成交。
// 拉取失败时本地状态保持不变并返回错误。
func (e *Engine) Reconcile(ctx context.Context, m *position.Machine) (Outcome, error) {
	symbol := m.Symbol()
	snapshots, err := e.source.Positions(ctx, symbol)
	if err != nil {
		return Outcome{Symbol: symbol, Action: ActionUnchanged}, fmt.Errorf("reconcile: 获取 %s 持仓失败: %w", symbol, err)
	}

	out := Outcome{Symbol: symbol, Action: ActionUnchanged}
	snap, found := firstOpen(symbol, snapshots)
	out.Found = found
	out.Exchange = snap

	local, held := m.Position()
	switch {
	case found && !held:
		pos, ok := m.Adopt(snap, snap.MarkPrice)
		if !ok {
			return out, fmt.Errorf("reconcile: 接管 %s 持仓失败，数据无效 amount=%v entry=%v", symbol, snap.Amount, snap.EntryPrice)
		}
		out.Action = ActionAdopted
		e.sink.Emit(ctx, monitor.NewEvent(monitor.EventReconcile, monitor.LevelWarn, symbol,
			fmt.Sprintf("接管交易所持仓 %s %.6f @ %.4f", pos.Side, pos.Quantity, pos.EntryPrice),
			map[string]any{
				"action":      string(out.Action),
				"side":        pos.Side.String(),
				"quantity":    pos.Quantity,
				"entry_price": pos.EntryPrice,
				"take_profit": pos.TakeProfit,
				"stop_loss":   pos.StopLoss,
			}))

	case found && held:
		if exchangeSide, _ := position.SideFromAmount(snap.Amount); exchangeSide != local.Side {
			// 方向不一致说明本地状态已失效，留待下一轮按交易所数据重新接管
			m.ClearExternal()
			out.Action = ActionClearedExternal
			e.sink.Emit(ctx, monitor.NewEvent(monitor.EventReconcile, monitor.LevelWarn, symbol,
				"本地持仓方向与交易所不一致，已清除",
				map[string]any{"action": string(out.Action), "local_side": local.Side.String(), "exchange_amount": snap.Amount}))
			return out, nil
		}
		if qty := math.Abs(snap.Amount); math.Abs(qty-local.Quantity) > quantityTolerance {
			// 部分外部平仓或加仓后以交易所数量为准，后续只减仓平仓按新数量下单
			if prev, ok := m.SyncQuantity(qty); ok {
				e.logger.Warn("本地持仓数量与交易所不一致，已同步",
					zap.String("symbol", symbol),
					zap.Float64("local_quantity", prev),
					zap.Float64("exchange_quantity", qty),
				)
				e.sink.Emit(ctx, monitor.NewEvent(monitor.EventReconcile, monitor.LevelWarn, symbol,
					fmt.Sprintf("持仓数量由 %.6f 同步为 %.6f", prev, qty),
					map[string]any{"action": string(ActionRefreshed), "local_quantity": prev, "exchange_quantity": qty}))
			}
		}
		m.RefreshPnL(snap.MarkPrice)
		out.Action = ActionRefreshed

	case !found && held:
		m.ClearExternal()
		out.Action = ActionClearedExternal
		e.sink.Emit(ctx, monitor.NewEvent(monitor.EventReconcile, monitor.LevelWarn, symbol,
			"持仓已在外部平仓，清除本地状态",
			map[string]any{
				"action":      string(out.Action),
				"side":        local.Side.String(),
				"quantity":    local.Quantity,
				"entry_price": local.EntryPrice,
			}))
	}

	if out.Action != ActionUnchanged {
		e.logger.Debug("对账完成", zap.String("symbol", symbol), zap.String("action", string(out.Action)))
	}
	return out, nil
}

// firstOpen 取该交易对第一个非零持仓。
func firstOpen(symbol string, snapshots []exchange.PositionSnapshot) (exchange.PositionSnapshot, bool) {
	for _, snap := range snapshots {
		if snap.Amount == 0 {
			continue
		}
		if snap.Symbol != "" && snap.Symbol != symbol {
			continue
		}
		return snap, true
	}
	return exchange.PositionSnapshot{}, false
}
