package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"asterbot/internal/exchange"
)

// AccountSource 为预算计算所需的交易所读接口。
type AccountSource interface {
	Balance(ctx context.Context) (exchange.Balance, error)
	Positions(ctx context.Context, symbol string) ([]exchange.PositionSnapshot, error)
}

// Tracker 以交易所真实持仓计算周期预算，不保存跨周期状态。
type Tracker struct {
	source   AccountSource
	leverage map[string]int
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker 创建预算计算器，leverage 为各交易对配置杠杆。
func NewTracker(source AccountSource, leverage map[string]int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		source:   source,
		leverage: leverage,
		logger:   logger,
		now:      time.Now,
	}
}

// Compute 拉取余额并结合给定持仓占用计算预算。
func (t *Tracker) Compute(ctx context.Context, exposures []Exposure) (Budget, error) {
	balance, err := t.source.Balance(ctx)
	if err != nil {
		return Budget{}, fmt.Errorf("risk: 获取余额失败: %w", err)
	}
	return ComputeBudget(totalBalance(balance), exposures, t.now()), nil
}

// Refresh 重新拉取全部交易对持仓后计算预算。某个交易对拉取失败时使用 fallback 给出的本地持仓。
func (t *Tracker) Refresh(ctx context.Context, symbols []string, fallback func(symbol string) (Exposure, bool)) (Budget, error) {
	exposures := make([]Exposure, 0, len(symbols))
	for _, symbol := range symbols {
		snapshots, err := t.source.Positions(ctx, symbol)
		if err != nil {
			t.logger.Warn("获取持仓失败，使用本地持仓估算预算",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			if fallback != nil {
				if exp, ok := fallback(symbol); ok {
					exposures = append(exposures, exp)
				}
			}
			continue
		}
		if exp, ok := t.ExposureFrom(symbol, snapshots); ok {
			exposures = append(exposures, exp)
		}
	}
	return t.Compute(ctx, exposures)
}

// ExposureFrom 取交易所上报的第一个非零持仓作为该交易对占用。
func (t *Tracker) ExposureFrom(symbol string, snapshots []exchange.PositionSnapshot) (Exposure, bool) {
	for _, snap := range snapshots {
		if snap.Amount == 0 {
			continue
		}
		return Exposure{
			Symbol:     symbol,
			Amount:     snap.Amount,
			EntryPrice: snap.EntryPrice,
			Leverage:   t.LeverageFor(symbol),
		}, true
	}
	return Exposure{}, false
}

// LeverageFor 返回交易对配置杠杆。
func (t *Tracker) LeverageFor(symbol string) int {
	if lev, ok := t.leverage[symbol]; ok && lev > 0 {
		return lev
	}
	return 1
}

// ComputeBudget 按 100 − 已占用保证金/余额×100 计算可用保证金比例。
func ComputeBudget(balance float64, exposures []Exposure, now time.Time) Budget {
	budget := Budget{Balance: balance, ComputedAt: now}
	for _, exp := range exposures {
		if exp.Amount == 0 {
			continue
		}
		budget.ActivePositions++
		budget.CommittedMargin += exp.Margin()
	}

	if balance <= 0 {
		return budget
	}
	budget.AvailableMarginPct = clampPct(100 - budget.CommittedMargin/balance*100)
	return budget
}

func totalBalance(b exchange.Balance) float64 {
	if b.Wallet > 0 {
		return b.Wallet
	}
	return b.Available
}
