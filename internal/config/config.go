package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "aster"
	overridesKey      = "symbol_overrides"
)

// Load 读取 .env、配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	for i, symbol := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(symbol))
	}

	overrides, err := resolveOverrides(v, cfg.Trading)
	if err != nil {
		return nil, err
	}
	cfg.SymbolOverrides = overrides

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveOverrides 将 symbol_overrides 中的局部参数叠加在全局 trading 之上。
func resolveOverrides(v *viper.Viper, base TradingConfig) (map[string]TradingConfig, error) {
	raw := v.GetStringMap(overridesKey)
	if len(raw) == 0 {
		return nil, nil
	}

	overrides := make(map[string]TradingConfig, len(raw))
	for key := range raw {
		sub := v.Sub(overridesKey + "." + key)
		if sub == nil {
			continue
		}
		tc := base
		if err := sub.Unmarshal(&tc, decodeHook()); err != nil {
			return nil, fmt.Errorf("解析 %s.%s 失败: %w", overridesKey, key, err)
		}
		overrides[strings.ToUpper(key)] = tc
	}
	return overrides, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.driver", DriverAster)
	v.SetDefault("exchange.base_url", "https://fapi.asterdex.com")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("exchange.margin_mode", "ISOLATED")
	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "200ms")
	v.SetDefault("exchange.retry.max_delay", "2s")

	v.SetDefault("trading.leverage", 10)
	v.SetDefault("trading.max_margin_per_trade", 20.0)
	v.SetDefault("trading.take_profit_pct", 0.8)
	v.SetDefault("trading.stop_loss_pct", 2.0)
	v.SetDefault("trading.max_position_time", "300s")
	v.SetDefault("trading.trading_fee_pct", 0.035)
	v.SetDefault("trading.min_position_size", 0.001)
	v.SetDefault("trading.min_trade_interval", "15s")
	v.SetDefault("trading.scalping_mode", true)

	v.SetDefault("scheduler.cycle_interval", "500ms")
	v.SetDefault("scheduler.max_concurrent_positions", 3)
	v.SetDefault("scheduler.min_available_margin_pct", 25.0)
	v.SetDefault("scheduler.summary_every", 10)
	v.SetDefault("scheduler.shutdown_timeout", "30s")
	v.SetDefault("scheduler.close_on_shutdown", true)

	v.SetDefault("signal.provider", SignalProviderIndicator)
	v.SetDefault("signal.interval", "1m")
	v.SetDefault("signal.window", 50)
	v.SetDefault("signal.rsi_period", 14)
	v.SetDefault("signal.sma_short", 10)
	v.SetDefault("signal.sma_long", 20)
	v.SetDefault("signal.rsi_oversold", 30.0)
	v.SetDefault("signal.rsi_overbought", 70.0)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.listen_addr", ":9090")
	v.SetDefault("monitor.event_limit", 200)

	v.SetDefault("journal.enabled", false)

	v.SetDefault("database.path", "data/asterbot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
