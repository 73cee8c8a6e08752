package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"asterbot/internal/ai"
	"asterbot/internal/config"
	"asterbot/internal/exchange"
	"asterbot/internal/indicator"
	"asterbot/internal/monitor"
	"asterbot/internal/position"
	"asterbot/internal/signal"
	"asterbot/internal/store"
)

// Deps 为调度器的全部协作者，由调用方显式注入。
type Deps struct {
	Config  *config.Config
	Gateway exchange.Gateway
	Signals signal.Provider
	Sink    monitor.Sink
	Metrics *monitor.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = monitor.Sinks(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Handle 为运行中调度器的句柄。
type Handle struct {
	sched  *Scheduler
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start 初始化交易对并在后台启动调度循环。ctx 结束或调用 Stop 后进入关停流程。
func Start(ctx context.Context, deps Deps) (*Handle, error) {
	if deps.Config == nil {
		return nil, errors.New("app: config 不能为空")
	}
	if len(deps.Config.Symbols) == 0 {
		return nil, errors.New("app: symbols 不能为空")
	}
	if deps.Gateway == nil {
		return nil, errors.New("app: gateway 不能为空")
	}
	if deps.Signals == nil {
		return nil, errors.New("app: signal provider 不能为空")
	}

	sched := newScheduler(deps.withDefaults())
	if err := sched.setup(ctx, deps.Config.Exchange.MarginMode); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		sched:  sched,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.err = sched.run(runCtx)
	}()
	return h, nil
}

// Stop 请求停止，不等待关停完成。
func (h *Handle) Stop() {
	h.cancel()
}

// Wait 阻塞直到关停流程结束，返回关停平仓错误。
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done 在调度器完全退出后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status 返回统计与各交易对状态。
func (h *Handle) Status() Status {
	s := h.sched
	s.mu.RLock()
	status := Status{
		Running:   s.running,
		Stats:     s.stats,
		LastCycle: s.lastCycle,
	}
	if !s.budget.ComputedAt.IsZero() {
		status.MarginUsagePct = 100 - s.budget.AvailableMarginPct
	}
	s.mu.RUnlock()

	status.Stats.Uptime = s.now().Sub(status.Stats.StartedAt)
	if minutes := status.Stats.Uptime.Minutes(); minutes > 0 {
		status.CyclesPerMinute = float64(status.Stats.CyclesCompleted) / minutes
	}

	status.Symbols = make(map[string]position.Snapshot, len(s.symbols))
	for _, symbol := range s.symbols {
		status.Symbols[symbol] = s.machines[symbol].Snapshot()
	}
	return status
}

// Positions 返回当前持仓，按交易对排序。
func (h *Handle) Positions() []position.Snapshot {
	out := make([]position.Snapshot, 0, len(h.sched.symbols))
	for _, symbol := range h.sched.symbols {
		snap := h.sched.machines[symbol].Snapshot()
		if snap.State == position.StateOpen {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ClosePositions 请求调度协程平掉指定交易对的持仓，未指定时平掉全部。
func (h *Handle) ClosePositions(ctx context.Context, symbols ...string) error {
	cmd := closeCommand{symbols: symbols, reply: make(chan error, 1)}
	select {
	case h.sched.commands <- cmd:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// App 根据配置组装依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。store 为空时不记录事件日志。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
	}
}

// Run 启动调度器并阻塞至 ctx 结束且关停完成。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("driver", a.cfg.Exchange.Driver),
		zap.Strings("symbols", a.cfg.Symbols),
	)

	gateway, err := exchange.NewGateway(a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	signals, err := a.signalProvider()
	if err != nil {
		return err
	}

	sinks := monitor.Sinks{monitor.NewZapSink(a.logger)}

	var journal *monitor.Journal
	if a.cfg.Journal.Enabled && a.store != nil {
		journal, err = monitor.NewJournal(ctx, a.store, a.logger)
		if err != nil {
			return fmt.Errorf("初始化事件日志失败: %w", err)
		}
		sinks = append(sinks, journal)
	}

	var (
		metrics *monitor.Metrics
		server  *monitor.Server
	)
	if a.cfg.Monitor.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = monitor.NewMetrics(reg)

		hub := monitor.NewHub(a.logger)
		go hub.Run(ctx)

		sinks = append(sinks, metrics, hub)
		server = monitor.NewServer(a.cfg.Monitor.ListenAddr, a.cfg.Monitor.EventLimit, journal, reg, hub, a.logger)
	}

	handle, err := Start(ctx, Deps{
		Config:  a.cfg,
		Gateway: gateway,
		Signals: signals,
		Sink:    sinks,
		Metrics: metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}

	if server != nil {
		handle.mountControl(server)
		server.Start(ctx)
	}

	err = handle.Wait()
	status := handle.Status()
	a.logger.Info("交易系统已停止",
		zap.Int("cycles", status.Stats.CyclesCompleted),
		zap.Int("trades", status.Stats.TradesCount),
		zap.Float64("total_volume", status.Stats.TotalVolume),
		zap.Float64("total_pnl", status.Stats.TotalPnL),
		zap.Int("errors", status.Stats.ErrorsCount),
	)
	return err
}

func (a *App) signalProvider() (signal.Provider, error) {
	switch a.cfg.Signal.Provider {
	case config.SignalProviderOpenAI:
		provider, err := ai.NewProvider(a.cfg.OpenAI, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化AI信号源失败: %w", err)
		}
		return provider, nil
	default:
		return signal.NewIndicatorProvider(indicator.Params{
			RSIPeriod:     a.cfg.Signal.RSIPeriod,
			SMAShort:      a.cfg.Signal.SMAShort,
			SMALong:       a.cfg.Signal.SMALong,
			RSIOversold:   a.cfg.Signal.RSIOversold,
			RSIOverbought: a.cfg.Signal.RSIOverbought,
		}), nil
	}
}
