package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"asterbot/internal/config"
	"asterbot/internal/exchange"
	"asterbot/internal/monitor"
	"asterbot/internal/risk"
	"asterbot/internal/signal"
)

// timeoutLossGuardPct 为超时平仓允许的最大未杠杆亏损百分比。
const timeoutLossGuardPct = 2.0

// Executor 提交市价单。
type Executor interface {
	Submit(ctx context.Context, symbol string, side exchange.OrderSide, qty decimal.Decimal, reduceOnly bool) (exchange.OrderResult, error)
}

// Deps 为状态机的协作者。
type Deps struct {
	Signals   signal.Provider
	Allocator *risk.Allocator
	Executor  Executor
	Sink      monitor.Sink
	Logger    *zap.Logger
	Now       func() time.Time
}

// EntryInput 为入场评估所需的本周期数据。
type EntryInput struct {
	Price      float64
	Closes     []float64
	Budget     risk.Budget
	Instrument exchange.Instrument
}

// Machine 为单个交易对的持仓状态机，同一时刻最多持有一个 Position。
// 状态变更只发生在调度协程中，锁用于保护并发读取。
type Machine struct {
	symbol    string
	cfg       config.TradingConfig
	signals   signal.Provider
	allocator *risk.Allocator
	executor  Executor
	sink      monitor.Sink
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	pos       *Position
	lastTrade time.Time
	stats     Stats
}

// NewMachine 创建状态机。
func NewMachine(symbol string, cfg config.TradingConfig, deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = monitor.Sinks(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Allocator == nil {
		deps.Allocator = risk.NewAllocator(deps.Logger)
	}
	return &Machine{
		symbol:    symbol,
		cfg:       cfg,
		signals:   deps.Signals,
		allocator: deps.Allocator,
		executor:  deps.Executor,
		sink:      deps.Sink,
		logger:    deps.Logger.With(zap.String("symbol", symbol)),
		now:       deps.Now,
	}
}

// Symbol 返回交易对。
func (m *Machine) Symbol() string {
	return m.symbol
}

// Config 返回交易参数。
func (m *Machine) Config() config.TradingConfig {
	return m.cfg
}

// State 返回当前状态。
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pos == nil {
		return StateNone
	}
	return StateOpen
}

// Position 返回当前持仓副本。
func (m *Machine) Position() (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

// Stats 返回累计统计。
func (m *Machine) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Snapshot 返回只读视图。
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{Symbol: m.symbol, State: StateNone, Stats: m.stats}
	if m.pos != nil {
		pos := *m.pos
		snap.State = StateOpen
		snap.Side = pos.Side.String()
		snap.Position = &pos
	}
	return snap
}

// Exposure 以本地持仓估算保证金占用，用于交易所数据缺失时的预算回退。
func (m *Machine) Exposure() (risk.Exposure, bool) {
	pos, ok := m.Position()
	if !ok {
		return risk.Exposure{}, false
	}
	return risk.Exposure{
		Symbol:     m.symbol,
		Amount:     pos.Quantity * pos.Side.Sign(),
		EntryPrice: pos.EntryPrice,
		Leverage:   m.cfg.Leverage,
	}, true
}

// EvaluateEntry 在无持仓时依次检查冷却、信号、仓位分配，满足条件则市价开仓。
// 下单失败时保持 NONE 并返回错误。
func (m *Machine) EvaluateEntry(ctx context.Context, in EntryInput) (Outcome, error) {
	now := m.now()

	m.mu.RLock()
	held := m.pos != nil
	lastTrade := m.lastTrade
	m.mu.RUnlock()

	if held {
		return Outcome{Action: ActionNone, Reason: "position_open"}, nil
	}
	if !lastTrade.IsZero() && now.Sub(lastTrade) < m.cfg.MinTradeInterval {
		return Outcome{Action: ActionNone, Reason: "cooldown"}, nil
	}
	if in.Price <= 0 {
		return Outcome{}, fmt.Errorf("position: %s 价格无效 %v", m.symbol, in.Price)
	}

	sig, err := m.signals.Evaluate(ctx, signal.Request{Symbol: m.symbol, Price: in.Price, Closes: in.Closes})
	if err != nil {
		return Outcome{}, fmt.Errorf("position: %s 评估信号失败: %w", m.symbol, err)
	}

	side, ok := sideFromAction(sig.Action)
	if !ok {
		return Outcome{Action: ActionNone, Reason: "signal_hold"}, nil
	}
	if threshold := m.cfg.ConfidenceThreshold(); sig.Confidence < threshold {
		m.logger.Debug("信号置信度不足",
			zap.String("action", string(sig.Action)),
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("threshold", threshold),
		)
		return Outcome{Action: ActionNone, Reason: "low_confidence"}, nil
	}

	alloc := m.allocator.Allocate(risk.AllocationRequest{
		Balance:            in.Budget.Balance,
		AvailableMarginPct: in.Budget.AvailableMarginPct,
		PerTradeCapPct:     m.cfg.MaxMarginPerTrade,
		Leverage:           m.cfg.Leverage,
		EntryPrice:         in.Price,
		MinPositionSize:    m.cfg.MinPositionSize,
		Instrument:         in.Instrument,
	})
	if alloc.Rejected() {
		m.logger.Info("仓位分配为零，放弃开仓",
			zap.String("side", side.String()),
			zap.String("reason", string(alloc.Reason)),
			zap.Float64("available_margin_pct", in.Budget.AvailableMarginPct),
		)
		return Outcome{Action: ActionNone, Reason: "allocation_" + string(alloc.Reason)}, nil
	}

	result, err := m.executor.Submit(ctx, m.symbol, side.OpenOrderSide(), alloc.Quantity, false)
	if err != nil {
		return Outcome{}, fmt.Errorf("position: %s 开仓失败: %w", m.symbol, err)
	}

	entry := in.Price
	if result.AvgPrice > 0 {
		entry = result.AvgPrice
	}
	qty := alloc.Quantity.InexactFloat64()
	takeProfit, stopLoss := Targets(side, entry, m.cfg.TakeProfitPct, m.cfg.StopLossPct)
	pos := &Position{
		Symbol:     m.symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		EntryTime:  now,
	}
	notional := qty * entry

	m.mu.Lock()
	m.pos = pos
	m.lastTrade = now
	m.stats.Trades++
	m.stats.Volume += notional
	m.mu.Unlock()

	m.sink.Emit(ctx, monitor.NewEvent(monitor.EventPositionOpened, monitor.LevelInfo, m.symbol,
		fmt.Sprintf("开仓 %s %s @ %.4f", side, alloc.Quantity.String(), entry),
		map[string]any{
			"side":        side.String(),
			"quantity":    qty,
			"entry_price": entry,
			"take_profit": takeProfit,
			"stop_loss":   stopLoss,
			"leverage":    m.cfg.Leverage,
			"confidence":  sig.Confidence,
			"margin":      alloc.Margin,
			"order_id":    result.OrderID,
		}))

	return Outcome{
		Action:   ActionOpened,
		Reason:   string(sig.Action),
		Side:     side,
		Quantity: qty,
		Price:    entry,
		Volume:   notional,
	}, nil
}

// EvaluateExit 按止盈、止损、超时的优先级检查持仓。
// 超时时若未杠杆亏损超过保护阈值且未达到两倍最长持仓时间，则继续持有并发出警告。
func (m *Machine) EvaluateExit(ctx context.Context, price float64) (Outcome, error) {
	pos, ok := m.Position()
	if !ok {
		return Outcome{Action: ActionNone}, nil
	}
	if price <= 0 {
		return Outcome{}, fmt.Errorf("position: %s 价格无效 %v", m.symbol, price)
	}
	m.RefreshPnL(price)

	roe := ROE(pos.Side, pos.EntryPrice, price, m.cfg.Leverage)
	switch {
	case roe >= m.cfg.TakeProfitPct:
		return m.Close(ctx, price, ReasonTakeProfit)
	case roe <= -m.cfg.StopLossPct:
		return m.Close(ctx, price, ReasonStopLoss)
	}

	maxAge := m.cfg.MaxPositionTime
	age := m.now().Sub(pos.EntryTime)
	if maxAge <= 0 || age <= maxAge {
		return Outcome{Action: ActionNone}, nil
	}

	pricePnL := PricePnLPct(pos.Side, pos.EntryPrice, price)
	if pricePnL > -timeoutLossGuardPct || age > 2*maxAge {
		return m.Close(ctx, price, ReasonMaxTime)
	}

	m.sink.Emit(ctx, monitor.NewEvent(monitor.EventExitDeferred, monitor.LevelWarn, m.symbol,
		fmt.Sprintf("持仓超时但亏损 %.2f%%，等待回撤修复", pricePnL),
		map[string]any{
			"pnl_pct":     pricePnL,
			"age_seconds": math.Round(age.Seconds()),
		}))
	return Outcome{Action: ActionHeld, Reason: "timeout_loss_guard"}, nil
}

// Close 以只减仓市价单平掉全部持仓。下单失败时保持 OPEN 并返回错误。
func (m *Machine) Close(ctx context.Context, price float64, reason string) (Outcome, error) {
	pos, ok := m.Position()
	if !ok {
		return Outcome{Action: ActionNone}, nil
	}

	qty := decimal.NewFromFloat(pos.Quantity)
	result, err := m.executor.Submit(ctx, m.symbol, pos.Side.CloseOrderSide(), qty, true)
	if err != nil {
		return Outcome{}, fmt.Errorf("position: %s 平仓失败(%s): %w", m.symbol, reason, err)
	}

	exit := price
	if result.AvgPrice > 0 {
		exit = result.AvgPrice
	}
	if exit <= 0 {
		exit = pos.EntryPrice
	}
	pnl := NetPnL(pos.Side, pos.EntryPrice, exit, pos.Quantity, m.cfg.TradingFeePct)
	pnlPct := PricePnLPct(pos.Side, pos.EntryPrice, exit)
	notional := pos.Quantity * exit

	m.mu.Lock()
	m.pos = nil
	// 冷却计时在开仓与平仓时都会重置
	m.lastTrade = m.now()
	m.stats.Volume += notional
	m.stats.RealizedPnL += pnl
	m.mu.Unlock()

	level := monitor.LevelInfo
	if pnl < 0 {
		level = monitor.LevelWarn
	}
	m.sink.Emit(ctx, monitor.NewEvent(monitor.EventPositionClosed, level, m.symbol,
		fmt.Sprintf("平仓 %s %s @ %.4f 原因 %s 净盈亏 %.4f (%+.2f%%)", pos.Side, qty.String(), exit, reason, pnl, pnlPct),
		map[string]any{
			"side":        pos.Side.String(),
			"quantity":    pos.Quantity,
			"entry_price": pos.EntryPrice,
			"exit_price":  exit,
			"reason":      reason,
			"pnl":         pnl,
			"pnl_pct":     pnlPct,
			"roe":         ROE(pos.Side, pos.EntryPrice, exit, m.cfg.Leverage),
			"adopted":     pos.Adopted,
		}))

	return Outcome{
		Action:   ActionClosed,
		Reason:   reason,
		Side:     pos.Side,
		Quantity: pos.Quantity,
		Price:    exit,
		Volume:   notional,
		PnL:      pnl,
	}, nil
}

// Adopt 接管交易所上报但本地未知的持仓，止盈止损按配置重新计算，EntryTime 取当前时间。
// 已有持仓或数量为零时返回 false。
func (m *Machine) Adopt(snap exchange.PositionSnapshot, price float64) (Position, bool) {
	side, ok := SideFromAmount(snap.Amount)
	if !ok || snap.EntryPrice <= 0 {
		return Position{}, false
	}

	qty := math.Abs(snap.Amount)
	takeProfit, stopLoss := Targets(side, snap.EntryPrice, m.cfg.TakeProfitPct, m.cfg.StopLossPct)
	pos := &Position{
		Symbol:        m.symbol,
		Side:          side,
		EntryPrice:    snap.EntryPrice,
		Quantity:      qty,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		EntryTime:     m.now(),
		UnrealizedPnL: snap.UnrealizedPnL,
		Adopted:       true,
	}
	if price > 0 {
		pos.UnrealizedPnL = NetPnL(side, snap.EntryPrice, price, qty, m.cfg.TradingFeePct)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos != nil {
		return Position{}, false
	}
	m.pos = pos
	return *pos, true
}

// RefreshPnL 按净盈亏公式刷新未实现盈亏，不修改止盈止损。
func (m *Machine) RefreshPnL(price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return
	}
	m.pos.UnrealizedPnL = NetPnL(m.pos.Side, m.pos.EntryPrice, price, m.pos.Quantity, m.cfg.TradingFeePct)
}

// SyncQuantity 以交易所上报的数量覆盖本地持仓数量，不修改止盈止损与开仓时间。
// 返回原数量；未持仓或数量无效时返回 false。
func (m *Machine) SyncQuantity(qty float64) (float64, bool) {
	if qty <= 0 {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return 0, false
	}
	prev := m.pos.Quantity
	m.pos.Quantity = qty
	return prev, true
}

// ClearExternal 清除已在交易所外部平掉的持仓，不记录成交。
func (m *Machine) ClearExternal() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return Position{}, false
	}
	pos := *m.pos
	m.pos = nil
	return pos, true
}
