package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asterbot/internal/config"
	"asterbot/internal/exchange"
	"asterbot/internal/execution"
	"asterbot/internal/monitor"
	"asterbot/internal/position"
	"asterbot/internal/reconcile"
	"asterbot/internal/risk"
)

// setupConcurrency 限制启动阶段并发请求数。
const setupConcurrency = 4

// Scheduler 按固定周期驱动全部交易对：先对账，再计算预算，优先处理持仓交易对，
// 最后在准入控制下评估开仓。交易对按顺序处理，每次成交后重新计算预算。
type Scheduler struct {
	cfg     config.SchedulerConfig
	symbols []string

	gateway    exchange.Gateway
	market     *exchange.MarketDataService
	tracker    *risk.Tracker
	reconciler *reconcile.Engine
	machines   map[string]*position.Machine
	sink       monitor.Sink
	metrics    *monitor.Metrics
	logger     *zap.Logger
	now        func() time.Time

	commands chan closeCommand

	instrumentsMu sync.RWMutex
	instruments   map[string]exchange.Instrument

	mu        sync.RWMutex
	stats     Stats
	lastCycle CycleResult
	budget    risk.Budget
	running   bool
}

type closeCommand struct {
	symbols []string
	reply   chan error
}

func newScheduler(deps Deps) *Scheduler {
	cfg := deps.Config
	logger := deps.Logger
	now := deps.Now

	leverage := make(map[string]int, len(cfg.Symbols))
	machines := make(map[string]*position.Machine, len(cfg.Symbols))
	allocator := risk.NewAllocator(logger)
	executor := execution.NewExecutor(deps.Gateway, logger)
	for _, symbol := range cfg.Symbols {
		trading := cfg.TradingFor(symbol)
		leverage[symbol] = trading.Leverage
		machines[symbol] = position.NewMachine(symbol, trading, position.Deps{
			Signals:   deps.Signals,
			Allocator: allocator,
			Executor:  executor,
			Sink:      deps.Sink,
			Logger:    logger,
			Now:       now,
		})
	}

	return &Scheduler{
		cfg:         cfg.Scheduler,
		symbols:     append([]string(nil), cfg.Symbols...),
		gateway:     deps.Gateway,
		market:      exchange.NewMarketDataService(deps.Gateway, cfg.Signal.Interval, cfg.Signal.Window, logger),
		tracker:     risk.NewTracker(deps.Gateway, leverage, logger),
		reconciler:  reconcile.NewEngine(deps.Gateway, deps.Sink, logger),
		machines:    machines,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         now,
		commands:    make(chan closeCommand),
		instruments: make(map[string]exchange.Instrument, len(cfg.Symbols)),
		stats:       Stats{StartedAt: now()},
	}
}

// setup 为每个交易对设置杠杆与保证金模式并加载交易规则。
// 杠杆与保证金模式失败仅告警，交易规则失败回退到默认值。
func (s *Scheduler) setup(ctx context.Context, marginMode string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(setupConcurrency)

	for _, symbol := range s.symbols {
		m := s.machines[symbol]
		g.Go(func() error {
			leverage := m.Config().Leverage
			if err := s.gateway.SetLeverage(gctx, symbol, leverage); err != nil {
				s.logger.Warn("设置杠杆失败", zap.String("symbol", symbol), zap.Int("leverage", leverage), zap.Error(err))
			}
			if marginMode != "" {
				if err := s.gateway.SetMarginMode(gctx, symbol, marginMode); err != nil {
					s.logger.Warn("设置保证金模式失败", zap.String("symbol", symbol), zap.String("mode", marginMode), zap.Error(err))
				}
			}

			inst, err := s.gateway.Instrument(gctx, symbol)
			if err != nil {
				inst = exchange.DefaultInstrument(symbol, m.Config().MinPositionSize)
				s.logger.Warn("加载交易规则失败，使用默认精度",
					zap.String("symbol", symbol),
					zap.Float64("step_size", inst.StepSize),
					zap.Error(err),
				)
			}
			s.instrumentsMu.Lock()
			s.instruments[symbol] = inst
			s.instrumentsMu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: 初始化交易对失败: %w", err)
	}
	return nil
}

func (s *Scheduler) instrument(symbol string) exchange.Instrument {
	s.instrumentsMu.RLock()
	defer s.instrumentsMu.RUnlock()
	if inst, ok := s.instruments[symbol]; ok {
		return inst
	}
	return exchange.DefaultInstrument(symbol, s.machines[symbol].Config().MinPositionSize)
}

// run 执行主循环，ctx 结束后完成当前周期并进入关停流程。
func (s *Scheduler) run(ctx context.Context) error {
	interval := s.cfg.CycleInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	s.setRunning(true)
	defer s.setRunning(false)

	s.emit(ctx, monitor.NewEvent(monitor.EventLifecycle, monitor.LevelInfo, "", "调度器已启动",
		map[string]any{"symbols": s.symbols, "interval": interval.String()}))

	// 周期内的请求不随 ctx 取消中断，保证已开始的周期完整执行
	tickCtx := context.WithoutCancel(ctx)
	s.Tick(tickCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(ctx)
		case cmd := <-s.commands:
			cmd.reply <- s.closeSymbols(tickCtx, cmd.symbols, position.ReasonManual)
		case <-ticker.C:
			if ctx.Err() != nil {
				return s.shutdown(ctx)
			}
			s.Tick(tickCtx)
		}
	}
}

// Tick 执行一个完整周期。
func (s *Scheduler) Tick(ctx context.Context) CycleResult {
	started := s.now()

	s.mu.RLock()
	number := s.stats.CyclesCompleted + 1
	s.mu.RUnlock()

	result := CycleResult{
		Number:    number,
		StartedAt: started,
		Symbols:   make(map[string]SymbolResult, len(s.symbols)),
	}

	// 对账先于一切决策
	exposures := make([]risk.Exposure, 0, len(s.symbols))
	unreconciled := make(map[string]bool)
	for _, symbol := range s.symbols {
		m := s.machines[symbol]
		out, err := s.reconciler.Reconcile(ctx, m)
		if err != nil {
			unreconciled[symbol] = true
			s.recordError(ctx, &result, symbol, err)
			if exp, ok := m.Exposure(); ok {
				exposures = append(exposures, exp)
			}
			continue
		}
		if out.Found {
			exposures = append(exposures, risk.Exposure{
				Symbol:     symbol,
				Amount:     out.Exchange.Amount,
				EntryPrice: out.Exchange.EntryPrice,
				Leverage:   m.Config().Leverage,
			})
		}
	}

	budget, err := s.tracker.Compute(ctx, exposures)
	budgetOK := err == nil
	if err != nil {
		s.recordError(ctx, &result, "", err)
	}

	held := make([]string, 0, len(s.symbols))
	idle := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		if s.machines[symbol].State() == position.StateOpen {
			held = append(held, symbol)
		} else {
			idle = append(idle, symbol)
		}
	}

	refresh := func() {
		updated, err := s.tracker.Refresh(ctx, s.symbols, s.localExposure)
		if err != nil {
			budgetOK = false
			s.recordError(ctx, &result, "", err)
			return
		}
		budget = updated
	}

	for _, symbol := range held {
		outcome, err := s.evaluateHeld(ctx, symbol)
		s.collect(ctx, &result, symbol, outcome, err)
		if err == nil && outcome.Acted() {
			refresh()
		}
	}

	for _, symbol := range idle {
		switch {
		case unreconciled[symbol]:
			s.skip(&result, symbol, "reconcile_failed")
			continue
		case !budgetOK:
			s.skip(&result, symbol, "budget_unavailable")
			continue
		case !s.admit(budget):
			s.skip(&result, symbol, "admission_denied")
			continue
		}

		outcome, err := s.evaluateIdle(ctx, symbol, budget)
		s.collect(ctx, &result, symbol, outcome, err)
		if err == nil && outcome.Acted() {
			refresh()
		}
	}

	result.ActivePositions = budget.ActivePositions
	result.AvailableMarginPct = budget.AvailableMarginPct
	result.Duration = s.now().Sub(started)

	s.mu.Lock()
	s.stats.CyclesCompleted++
	s.stats.TradesCount += result.TradesCount
	s.stats.TotalVolume += result.Volume
	s.stats.TotalPnL += result.PnL
	s.lastCycle = result
	if budgetOK {
		s.budget = budget
	}
	stats := s.stats
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveCycle(result.ActivePositions, result.AvailableMarginPct, result.Duration)
	}
	if s.cfg.SummaryEvery > 0 && result.Number%s.cfg.SummaryEvery == 0 {
		s.emit(ctx, monitor.NewEvent(monitor.EventCycleSummary, monitor.LevelInfo, "",
			fmt.Sprintf("周期 #%d 汇总: 持仓 %d 可用保证金 %.1f%% 累计盈亏 %.4f", result.Number, result.ActivePositions, result.AvailableMarginPct, stats.TotalPnL),
			map[string]any{
				"cycle":                result.Number,
				"active_positions":     result.ActivePositions,
				"available_margin_pct": result.AvailableMarginPct,
				"trades_count":         stats.TradesCount,
				"total_volume":         stats.TotalVolume,
				"total_pnl":            stats.TotalPnL,
				"errors_count":         stats.ErrorsCount,
			}))
	}
	return result
}

// admit 判断是否允许新开仓。
func (s *Scheduler) admit(budget risk.Budget) bool {
	return budget.ActivePositions < s.cfg.MaxConcurrentPositions &&
		budget.AvailableMarginPct > s.cfg.MinAvailableMarginPct
}

func (s *Scheduler) evaluateHeld(ctx context.Context, symbol string) (position.Outcome, error) {
	price, err := s.gateway.LastPrice(ctx, symbol)
	if err != nil {
		return position.Outcome{}, fmt.Errorf("app: 获取 %s 价格失败: %w", symbol, err)
	}
	return s.machines[symbol].EvaluateExit(ctx, price)
}

func (s *Scheduler) evaluateIdle(ctx context.Context, symbol string, budget risk.Budget) (position.Outcome, error) {
	snap, err := s.market.Snapshot(ctx, symbol)
	if err != nil {
		return position.Outcome{}, err
	}
	return s.machines[symbol].EvaluateEntry(ctx, position.EntryInput{
		Price:      snap.Price,
		Closes:     snap.Closes,
		Budget:     budget,
		Instrument: s.instrument(symbol),
	})
}

func (s *Scheduler) localExposure(symbol string) (risk.Exposure, bool) {
	m, ok := s.machines[symbol]
	if !ok {
		return risk.Exposure{}, false
	}
	return m.Exposure()
}

func (s *Scheduler) collect(ctx context.Context, result *CycleResult, symbol string, outcome position.Outcome, err error) {
	sr := SymbolResult{
		Symbol: symbol,
		State:  s.machines[symbol].State(),
		Action: outcome.Action,
		Reason: outcome.Reason,
		Volume: outcome.Volume,
		PnL:    outcome.PnL,
	}
	if sr.Action == "" {
		sr.Action = position.ActionNone
	}
	if err != nil {
		sr.Error = err.Error()
		s.recordError(ctx, result, symbol, err)
	}
	switch outcome.Action {
	case position.ActionOpened:
		result.TradesCount++
	case position.ActionClosed:
		result.PnL += outcome.PnL
	}
	result.Volume += outcome.Volume
	result.Symbols[symbol] = sr
}

// skip 记录跳过原因，保留本周期已记录的错误。
func (s *Scheduler) skip(result *CycleResult, symbol, reason string) {
	sr := result.Symbols[symbol]
	sr.Symbol = symbol
	sr.State = s.machines[symbol].State()
	sr.Action = position.ActionNone
	sr.Reason = reason
	result.Symbols[symbol] = sr
}

func (s *Scheduler) recordError(ctx context.Context, result *CycleResult, symbol string, err error) {
	result.Errors++
	if symbol != "" {
		sr := result.Symbols[symbol]
		sr.Symbol = symbol
		sr.Error = err.Error()
		result.Symbols[symbol] = sr
	}

	s.mu.Lock()
	s.stats.ErrorsCount++
	s.stats.LastError = err.Error()
	s.mu.Unlock()

	s.emit(ctx, monitor.NewEvent(monitor.EventError, monitor.LevelError, symbol, err.Error(), nil))
}

func (s *Scheduler) emit(ctx context.Context, event monitor.Event) {
	s.sink.Emit(ctx, event)
}

// closeSymbols 平掉指定交易对的持仓，symbols 为空时平掉全部。单个失败不影响其余交易对。
func (s *Scheduler) closeSymbols(ctx context.Context, symbols []string, reason string) error {
	if len(symbols) == 0 {
		symbols = s.symbols
	}

	var errs error
	for _, symbol := range symbols {
		m, ok := s.machines[symbol]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("app: 未配置交易对 %s", symbol))
			continue
		}
		pos, held := m.Position()
		if !held {
			continue
		}

		price, err := s.gateway.LastPrice(ctx, symbol)
		if err != nil {
			s.logger.Warn("平仓前获取价格失败，按开仓价估算盈亏", zap.String("symbol", symbol), zap.Error(err))
			price = pos.EntryPrice
		}

		outcome, err := m.Close(ctx, price, reason)
		if err != nil {
			errs = multierr.Append(errs, err)
			s.mu.Lock()
			s.stats.ErrorsCount++
			s.stats.LastError = err.Error()
			s.mu.Unlock()
			s.emit(ctx, monitor.NewEvent(monitor.EventError, monitor.LevelError, symbol, err.Error(), nil))
			continue
		}

		s.mu.Lock()
		s.stats.TotalVolume += outcome.Volume
		s.stats.TotalPnL += outcome.PnL
		s.mu.Unlock()
	}
	return errs
}

// shutdown 在独立的限时上下文中尽力平掉全部持仓。
func (s *Scheduler) shutdown(ctx context.Context) error {
	s.logger.Info("调度器停止，进入关停流程")
	if !s.cfg.CloseOnShutdown {
		s.emit(ctx, monitor.NewEvent(monitor.EventLifecycle, monitor.LevelInfo, "", "调度器已停止，保留现有持仓", nil))
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := s.closeSymbols(shutdownCtx, nil, position.ReasonShutdown)
	level, message := monitor.LevelInfo, "调度器已停止，持仓已全部平仓"
	if err != nil {
		level, message = monitor.LevelError, fmt.Sprintf("调度器已停止，部分持仓平仓失败: %v", err)
	}
	s.emit(shutdownCtx, monitor.NewEvent(monitor.EventLifecycle, level, "", message, nil))
	if err != nil {
		return fmt.Errorf("app: 关停平仓失败: %w", err)
	}
	return nil
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// ErrStopped 表示调度器已停止。
var ErrStopped = errors.New("app: 调度器已停止")
