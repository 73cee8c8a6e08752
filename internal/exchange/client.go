package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"asterbot/internal/config"
)

// CCXTGateway 通过 ccxt 的 binanceusdm 实现访问 Binance USDⓈ-M 合约，
// 对外使用交易所原生交易对 ID（如 BTCUSDT）。
type CCXTGateway struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	retry    *retrier

	marketsMu   sync.Mutex
	unified     map[string]string
	instruments map[string]Instrument
}

// NewCCXTGateway 构造 Binance USDⓈ-M 客户端。
func NewCCXTGateway(cfg config.ExchangeConfig, logger *zap.Logger) *CCXTGateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.Timeout > 0 {
		userConfig["timeout"] = cfg.Timeout.Milliseconds()
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	logger = logger.With(zap.String("exchange", config.DriverBinanceUSDM))
	return &CCXTGateway{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		retry:    newRetrier(cfg.Retry, logger, classifyCCXT),
	}
}

// Balance 返回计价资产余额。
func (g *CCXTGateway) Balance(ctx context.Context) (Balance, error) {
	var raw ccxt.Balances
	err := g.retry.do(ctx, "fetch_balance", func() error {
		res, err := g.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = res
		return nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("exchange: 获取余额失败: %w", err)
	}

	quote := g.cfg.QuoteAsset
	balance := Balance{Asset: quote}
	if raw.Total != nil {
		balance.Wallet = derefFloat(raw.Total[quote])
	}
	if raw.Free != nil {
		balance.Available = derefFloat(raw.Free[quote])
	}
	return balance, nil
}

// Positions 返回指定交易对的持仓，空头数量以负数表示。
func (g *CCXTGateway) Positions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	unified, err := g.unifiedSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var raw []ccxt.Position
	err = g.retry.do(ctx, "fetch_positions", func() error {
		res, err := g.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s 持仓失败: %w", symbol, err)
	}

	positions := make([]PositionSnapshot, 0, 1)
	for _, p := range raw {
		if !strings.EqualFold(derefString(p.Symbol), unified) {
			continue
		}
		size := derefFloat(p.Contracts)
		if size == 0 {
			continue
		}
		if strings.EqualFold(derefString(p.Side), "short") && size > 0 {
			size = -size
		}
		positions = append(positions, PositionSnapshot{
			Symbol:        symbol,
			Amount:        size,
			EntryPrice:    derefFloat(p.EntryPrice),
			MarkPrice:     derefFloat(p.MarkPrice),
			UnrealizedPnL: derefFloat(p.UnrealizedPnl),
			Leverage:      int(derefFloat(p.Leverage)),
		})
	}
	return positions, nil
}

// PlaceOrder 提交市价委托，只尝试一次。
func (g *CCXTGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	unified, err := g.unifiedSymbol(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}

	params := map[string]interface{}{}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	var order ccxt.Order
	err = g.retry.once("create_market_order", func() error {
		res, err := g.exchange.CreateMarketOrder(
			unified,
			strings.ToLower(string(req.Side)),
			req.Quantity.InexactFloat64(),
			ccxt.WithCreateMarketOrderParams(params),
		)
		if err != nil {
			return err
		}
		order = res
		return nil
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("exchange: %s %s %s 下单失败: %w", req.Symbol, req.Side, req.Quantity, err)
	}

	return OrderResult{
		OrderID:       derefString(order.Id),
		ClientOrderID: derefString(order.ClientOrderId),
		Status:        derefString(order.Status),
		ExecutedQty:   derefFloat(order.Filled),
		AvgPrice:      derefFloat(order.Average),
	}, nil
}

// SetLeverage 设置交易对杠杆。
func (g *CCXTGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	unified, err := g.unifiedSymbol(ctx, symbol)
	if err != nil {
		return err
	}
	err = g.retry.do(ctx, "set_leverage", func() error {
		_, err := g.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(unified))
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 设置 %s 杠杆失败: %w", symbol, err)
	}
	return nil
}

// SetMarginMode 设置逐仓或全仓。
func (g *CCXTGateway) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	unified, err := g.unifiedSymbol(ctx, symbol)
	if err != nil {
		return err
	}
	ccxtMode := "isolated"
	if strings.EqualFold(mode, "CROSSED") {
		ccxtMode = "cross"
	}
	err = g.retry.do(ctx, "set_margin_mode", func() error {
		_, err := g.exchange.SetMarginMode(ccxtMode, ccxt.WithSetMarginModeSymbol(unified))
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 设置 %s 保证金模式失败: %w", symbol, err)
	}
	return nil
}

// Instrument 返回市场元数据中的数量精度与最小下单约束。
func (g *CCXTGateway) Instrument(ctx context.Context, symbol string) (Instrument, error) {
	if err := g.ensureMarketsLoaded(ctx); err != nil {
		return Instrument{}, err
	}
	inst, ok := g.instruments[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("exchange: 未找到交易对 %s", symbol)
	}
	return inst, nil
}

// LastPrice 返回最新成交价。
func (g *CCXTGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	unified, err := g.unifiedSymbol(ctx, symbol)
	if err != nil {
		return 0, err
	}

	var price float64
	err = g.retry.do(ctx, "fetch_ticker", func() error {
		ticker, err := g.exchange.FetchTicker(unified)
		if err != nil {
			return err
		}
		price = derefFloat(ticker.Last)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exchange: 获取 %s 最新价失败: %w", symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("exchange: %s 最新价无效: %w", symbol, ErrConnectivity)
	}
	return price, nil
}

// Candles 获取指定周期的K线数据。
func (g *CCXTGateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	unified, err := g.unifiedSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err = g.retry.do(ctx, "fetch_ohlcv_"+interval, func() error {
		result, err := g.exchange.FetchOHLCV(
			unified,
			ccxt.WithFetchOHLCVTimeframe(interval),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s K线失败: %w", symbol, err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

func (g *CCXTGateway) unifiedSymbol(ctx context.Context, symbol string) (string, error) {
	if err := g.ensureMarketsLoaded(ctx); err != nil {
		return "", err
	}
	unified, ok := g.unified[symbol]
	if !ok {
		return "", fmt.Errorf("exchange: 未找到交易对 %s", symbol)
	}
	return unified, nil
}

func (g *CCXTGateway) ensureMarketsLoaded(ctx context.Context) error {
	g.marketsMu.Lock()
	defer g.marketsMu.Unlock()

	if g.unified != nil {
		return nil
	}

	var markets map[string]ccxt.MarketInterface
	loadErr := g.retry.do(ctx, "load_markets", func() error {
		res, err := g.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		markets = res
		return nil
	})
	if loadErr != nil {
		return fmt.Errorf("exchange: 加载市场元数据失败: %w", loadErr)
	}

	unified := make(map[string]string, len(markets))
	instruments := make(map[string]Instrument, len(markets))
	for _, m := range markets {
		id := derefString(m.Id)
		if id == "" {
			continue
		}
		unified[id] = derefString(m.Symbol)

		inst := DefaultInstrument(id, derefFloat(m.Limits.Amount.Min))
		if step := derefFloat(m.Precision.Amount); step > 0 {
			inst.StepSize = step
		}
		if notional := derefFloat(m.Limits.Cost.Min); notional > 0 {
			inst.MinNotional = notional
		}
		instruments[id] = inst
	}

	g.unified = unified
	g.instruments = instruments
	g.logger.Info("已完成市场元数据加载", zap.Int("markets", len(unified)))
	return nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
