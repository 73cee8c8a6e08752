package exchange

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"asterbot/internal/config"
)

// Gateway 抽象永续合约交易所。读操作失败返回包装了 ErrConnectivity 的错误，
// 委托与账户设置被拒绝时返回包装了 ErrOrderRejected 的错误。
type Gateway interface {
	Balance(ctx context.Context) (Balance, error)
	Positions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode string) error
	Instrument(ctx context.Context, symbol string) (Instrument, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// NewGateway 按配置选择交易所驱动。
func NewGateway(cfg config.ExchangeConfig, logger *zap.Logger) (Gateway, error) {
	switch cfg.Driver {
	case config.DriverAster:
		return NewAsterGateway(cfg, logger), nil
	case config.DriverBinanceUSDM:
		return NewCCXTGateway(cfg, logger), nil
	default:
		return nil, fmt.Errorf("exchange: 不支持的驱动 %q", cfg.Driver)
	}
}
