package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"asterbot/internal/config"
)

// 保证金模式无需变更
const codeNoNeedToChangeMarginType = -4046

// AsterGateway 通过 Binance 兼容的 futures 客户端访问 Aster 永续合约接口。
type AsterGateway struct {
	client *futures.Client
	quote  string
	logger *zap.Logger
	retry  *retrier

	instrumentsMu sync.Mutex
	instruments   map[string]Instrument
}

// NewAsterGateway 构造 Aster 网关，BaseURL 指向 Aster 合约域名。
func NewAsterGateway(cfg config.ExchangeConfig, logger *zap.Logger) *AsterGateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	logger = logger.With(zap.String("exchange", config.DriverAster))
	return &AsterGateway{
		client: client,
		quote:  quote,
		logger: logger,
		retry:  newRetrier(cfg.Retry, logger, classifyBinance),
	}
}

// Balance 返回计价资产的钱包余额与可用余额。
func (g *AsterGateway) Balance(ctx context.Context) (Balance, error) {
	var balances []*futures.Balance
	err := g.retry.do(ctx, "get_balance", func() error {
		res, err := g.client.NewGetBalanceService().Do(ctx)
		if err != nil {
			return err
		}
		balances = res
		return nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("exchange: 获取余额失败: %w", err)
	}

	for _, b := range balances {
		if b == nil || !strings.EqualFold(b.Asset, g.quote) {
			continue
		}
		return Balance{
			Asset:     b.Asset,
			Wallet:    parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
		}, nil
	}
	return Balance{Asset: g.quote}, nil
}

// Positions 返回指定交易对的持仓，空仓记录会被过滤。
func (g *AsterGateway) Positions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	var risks []*futures.PositionRisk
	err := g.retry.do(ctx, "get_position_risk", func() error {
		res, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		risks = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s 持仓失败: %w", symbol, err)
	}

	positions := make([]PositionSnapshot, 0, len(risks))
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, symbol) {
			continue
		}
		amount := parseFloat(r.PositionAmt)
		if amount == 0 {
			continue
		}
		leverage, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, PositionSnapshot{
			Symbol:        r.Symbol,
			Amount:        amount,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      leverage,
		})
	}
	return positions, nil
}

// PlaceOrder 提交市价委托，只尝试一次。
func (g *AsterGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	var resp *futures.CreateOrderResponse
	err := g.retry.once("create_order", func() error {
		res, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		resp = res
		return nil
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("exchange: %s %s %s 下单失败: %w", req.Symbol, req.Side, req.Quantity, err)
	}

	return OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
		AvgPrice:      parseFloat(resp.AvgPrice),
	}, nil
}

// SetLeverage 设置交易对杠杆。
func (g *AsterGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	err := g.retry.do(ctx, "change_leverage", func() error {
		_, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 设置 %s 杠杆失败: %w", symbol, err)
	}
	return nil
}

// SetMarginMode 设置逐仓或全仓，已是目标模式时视为成功。
func (g *AsterGateway) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	marginType := futures.MarginTypeIsolated
	if strings.EqualFold(mode, string(futures.MarginTypeCrossed)) {
		marginType = futures.MarginTypeCrossed
	}

	err := g.retry.do(ctx, "change_margin_type", func() error {
		err := g.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
		if apiErrorCode(err) == codeNoNeedToChangeMarginType {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("exchange: 设置 %s 保证金模式失败: %w", symbol, err)
	}
	return nil
}

// Instrument 返回交易对的 LOT_SIZE 与 MIN_NOTIONAL 约束，首次调用时加载全部合约。
func (g *AsterGateway) Instrument(ctx context.Context, symbol string) (Instrument, error) {
	g.instrumentsMu.Lock()
	defer g.instrumentsMu.Unlock()

	if g.instruments == nil {
		var info *futures.ExchangeInfo
		err := g.retry.do(ctx, "exchange_info", func() error {
			res, err := g.client.NewExchangeInfoService().Do(ctx)
			if err != nil {
				return err
			}
			info = res
			return nil
		})
		if err != nil {
			return Instrument{}, fmt.Errorf("exchange: 获取合约信息失败: %w", err)
		}

		instruments := make(map[string]Instrument, len(info.Symbols))
		for _, s := range info.Symbols {
			instruments[s.Symbol] = instrumentFromSymbol(s)
		}
		g.instruments = instruments
		g.logger.Info("已加载合约精度信息", zap.Int("symbols", len(instruments)))
	}

	inst, ok := g.instruments[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("exchange: 未找到交易对 %s", symbol)
	}
	return inst, nil
}

// LastPrice 返回最新成交价。
func (g *AsterGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := g.retry.do(ctx, "ticker_price", func() error {
		prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		for _, p := range prices {
			if p != nil && strings.EqualFold(p.Symbol, symbol) {
				price = parseFloat(p.Price)
				return nil
			}
		}
		return fmt.Errorf("empty ticker for %s", symbol)
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
func (g *AsterGateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var klines []*futures.Kline
	err := g.retry.do(ctx, "klines_"+interval, func() error {
		res, err := g.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return err
		}
		klines = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s K线失败: %w", symbol, err)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func instrumentFromSymbol(s futures.Symbol) Instrument {
	inst := DefaultInstrument(s.Symbol, 0)
	if lot := s.LotSizeFilter(); lot != nil {
		if step := parseFloat(lot.StepSize); step > 0 {
			inst.StepSize = step
		}
		if minQty := parseFloat(lot.MinQuantity); minQty > 0 {
			inst.MinQty = minQty
		}
	}
	if notional := s.MinNotionalFilter(); notional != nil {
		if v := parseFloat(notional.Notional); v > 0 {
			inst.MinNotional = v
		}
	}
	return inst
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
