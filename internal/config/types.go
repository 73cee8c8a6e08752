package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	// DriverAster 使用 Binance 兼容客户端直连 Aster 合约接口。
	DriverAster = "aster"
	// DriverBinanceUSDM 使用 ccxt 的 binanceusdm 实现。
	DriverBinanceUSDM = "binanceusdm"

	// SignalProviderIndicator 基于 RSI 与均线交叉生成信号。
	SignalProviderIndicator = "indicator"
	// SignalProviderOpenAI 由大模型生成信号。
	SignalProviderOpenAI = "openai"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App             AppConfig                `mapstructure:"app"`
	Exchange        ExchangeConfig           `mapstructure:"exchange"`
	Symbols         []string                 `mapstructure:"symbols"`
	Trading         TradingConfig            `mapstructure:"trading"`
	Scheduler       SchedulerConfig          `mapstructure:"scheduler"`
	Signal          SignalConfig             `mapstructure:"signal"`
	OpenAI          OpenAIConfig             `mapstructure:"openai"`
	Monitor         MonitorConfig            `mapstructure:"monitor"`
	Journal         JournalConfig            `mapstructure:"journal"`
	Database        DatabaseConfig           `mapstructure:"database"`
	Logging         LoggingConfig            `mapstructure:"logging"`
	SymbolOverrides map[string]TradingConfig `mapstructure:"-"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Driver     string        `mapstructure:"driver"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	UseSandbox bool          `mapstructure:"use_sandbox"`
	QuoteAsset string        `mapstructure:"quote_asset"`
	MarginMode string        `mapstructure:"margin_mode"`
	RecvWindow int64         `mapstructure:"recv_window"`
	Retry      RetryConfig   `mapstructure:"retry"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 为单个交易对的不可变交易参数。
type TradingConfig struct {
	Leverage          int           `mapstructure:"leverage"`
	MaxMarginPerTrade float64       `mapstructure:"max_margin_per_trade"`
	TakeProfitPct     float64       `mapstructure:"take_profit_pct"`
	StopLossPct       float64       `mapstructure:"stop_loss_pct"`
	MaxPositionTime   time.Duration `mapstructure:"max_position_time"`
	TradingFeePct     float64       `mapstructure:"trading_fee_pct"`
	MinPositionSize   float64       `mapstructure:"min_position_size"`
	MinTradeInterval  time.Duration `mapstructure:"min_trade_interval"`
	ScalpingMode      bool          `mapstructure:"scalping_mode"`
}

// ConfidenceThreshold 返回开仓所需的最低信号置信度。
func (t TradingConfig) ConfidenceThreshold() float64 {
	if t.ScalpingMode {
		return 0.3
	}
	return 0.6
}

// SchedulerConfig 控制主循环节奏与准入。
type SchedulerConfig struct {
	CycleInterval          time.Duration `mapstructure:"cycle_interval"`
	MaxConcurrentPositions int           `mapstructure:"max_concurrent_positions"`
	MinAvailableMarginPct  float64       `mapstructure:"min_available_margin_pct"`
	SummaryEvery           int           `mapstructure:"summary_every"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	CloseOnShutdown        bool          `mapstructure:"close_on_shutdown"`
}

// SignalConfig 控制信号源及指标参数。
type SignalConfig struct {
	Provider      string  `mapstructure:"provider"`
	Interval      string  `mapstructure:"interval"`
	Window        int     `mapstructure:"window"`
	RSIPeriod     int     `mapstructure:"rsi_period"`
	SMAShort      int     `mapstructure:"sma_short"`
	SMALong       int     `mapstructure:"sma_long"`
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitorConfig 控制监控 HTTP 接口。
type MonitorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	EventLimit int    `mapstructure:"event_limit"`
}

// JournalConfig 控制事件日志落盘。
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// TradingFor 返回指定交易对生效的交易参数，未覆盖时使用全局参数。
func (c *Config) TradingFor(symbol string) TradingConfig {
	if tc, ok := c.SymbolOverrides[strings.ToUpper(symbol)]; ok {
		return tc
	}
	return c.Trading
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch c.Exchange.Driver {
	case DriverAster, DriverBinanceUSDM:
	default:
		err = multierr.Append(err, fmt.Errorf("exchange.driver 不支持: %q", c.Exchange.Driver))
	}
	if c.Exchange.Driver == DriverAster && c.Exchange.BaseURL == "" {
		err = multierr.Append(err, errors.New("exchange.base_url 不能为空"))
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		err = multierr.Append(err, errors.New("exchange.api_key 与 exchange.api_secret 不能为空"))
	}
	if c.Exchange.QuoteAsset == "" {
		err = multierr.Append(err, errors.New("exchange.quote_asset 不能为空"))
	}
	switch strings.ToUpper(c.Exchange.MarginMode) {
	case "ISOLATED", "CROSSED":
	default:
		err = multierr.Append(err, fmt.Errorf("exchange.margin_mode 必须为 ISOLATED 或 CROSSED: %q", c.Exchange.MarginMode))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if len(c.Symbols) == 0 {
		err = multierr.Append(err, errors.New("symbols 至少包含一个交易对"))
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, symbol := range c.Symbols {
		if strings.TrimSpace(symbol) == "" {
			err = multierr.Append(err, errors.New("symbols 中存在空交易对"))
			continue
		}
		if _, ok := seen[symbol]; ok {
			err = multierr.Append(err, fmt.Errorf("symbols 中交易对重复: %s", symbol))
		}
		seen[symbol] = struct{}{}
	}

	err = multierr.Append(err, c.Trading.validate("trading"))
	for symbol, tc := range c.SymbolOverrides {
		if _, ok := seen[symbol]; !ok {
			err = multierr.Append(err, fmt.Errorf("symbol_overrides.%s 不在 symbols 列表中", symbol))
		}
		err = multierr.Append(err, tc.validate("symbol_overrides."+symbol))
	}

	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Scheduler.MaxConcurrentPositions <= 0 {
		err = multierr.Append(err, errors.New("scheduler.max_concurrent_positions 必须大于0"))
	}
	if c.Scheduler.MinAvailableMarginPct < 0 || c.Scheduler.MinAvailableMarginPct >= 100 {
		err = multierr.Append(err, errors.New("scheduler.min_available_margin_pct 必须位于[0,100)"))
	}
	if c.Scheduler.SummaryEvery <= 0 {
		err = multierr.Append(err, errors.New("scheduler.summary_every 必须大于0"))
	}
	if c.Scheduler.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("scheduler.shutdown_timeout 必须大于0"))
	}

	switch c.Signal.Provider {
	case SignalProviderIndicator:
	case SignalProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("signal.provider 不支持: %q", c.Signal.Provider))
	}
	if c.Signal.Interval == "" {
		err = multierr.Append(err, errors.New("signal.interval 不能为空"))
	}
	if c.Signal.RSIPeriod <= 1 {
		err = multierr.Append(err, errors.New("signal.rsi_period 必须大于1"))
	}
	if c.Signal.SMAShort <= 0 || c.Signal.SMALong <= c.Signal.SMAShort {
		err = multierr.Append(err, errors.New("signal.sma_short 必须为正且小于 sma_long"))
	}
	if c.Signal.Window <= c.Signal.SMALong || c.Signal.Window <= c.Signal.RSIPeriod {
		err = multierr.Append(err, errors.New("signal.window 必须大于 sma_long 与 rsi_period"))
	}
	if c.Signal.RSIOversold <= 0 || c.Signal.RSIOverbought >= 100 || c.Signal.RSIOversold >= c.Signal.RSIOverbought {
		err = multierr.Append(err, errors.New("signal.rsi_oversold 必须小于 rsi_overbought 且位于(0,100)"))
	}

	if c.Monitor.Enabled && c.Monitor.ListenAddr == "" {
		err = multierr.Append(err, errors.New("monitor.listen_addr 不能为空"))
	}
	if c.Journal.Enabled {
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
		if c.Database.MaxOpenConns <= 0 {
			err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
		}
		if c.Database.MaxIdleConns < 0 {
			err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
		}
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (t TradingConfig) validate(prefix string) error {
	var err error
	if t.Leverage <= 0 || t.Leverage > 125 {
		err = multierr.Append(err, fmt.Errorf("%s.leverage 必须位于[1,125]", prefix))
	}
	if t.MaxMarginPerTrade <= 0 || t.MaxMarginPerTrade > 100 {
		err = multierr.Append(err, fmt.Errorf("%s.max_margin_per_trade 必须位于(0,100]", prefix))
	}
	if t.TakeProfitPct <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.take_profit_pct 必须大于0", prefix))
	}
	if t.StopLossPct <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.stop_loss_pct 必须大于0", prefix))
	}
	if t.MaxPositionTime <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_position_time 必须大于0", prefix))
	}
	if t.TradingFeePct < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.trading_fee_pct 不能为负", prefix))
	}
	if t.MinPositionSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.min_position_size 必须大于0", prefix))
	}
	if t.MinTradeInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.min_trade_interval 不能为负", prefix))
	}
	return err
}
