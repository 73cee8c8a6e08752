package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarketDataSource 为行情服务所需的最小网关能力。
type MarketDataSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// MarketDataService 并发拉取单个交易对的最新价与收盘价窗口。
type MarketDataService struct {
	source   MarketDataSource
	interval string
	window   int
	logger   *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(source MarketDataSource, interval string, window int, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval == "" {
		interval = "1m"
	}
	if window <= 0 {
		window = 50
	}
	return &MarketDataService{
		source:   source,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Snapshot 拉取最新价及收盘价序列。
func (s *MarketDataService) Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error) {
	var (
		price  float64
		closes []float64
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		p, err := s.source.LastPrice(groupCtx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})

	group.Go(func() error {
		candles, err := s.source.Candles(groupCtx, symbol, s.interval, s.window)
		if err != nil {
			return err
		}
		closes = make([]float64, 0, len(candles))
		for _, c := range candles {
			closes = append(closes, c.Close)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return MarketSnapshot{}, err
	}

	snapshot := MarketSnapshot{
		Symbol:      symbol,
		Price:       price,
		Closes:      closes,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("市场数据快照获取完成",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Int("closes", len(closes)),
	)

	return snapshot, nil
}
