package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asterbot/internal/exchange"
)

func btcInstrument() exchange.Instrument {
	return exchange.Instrument{Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001, MinNotional: 5}
}

func baseRequest() AllocationRequest {
	return AllocationRequest{
		Balance:            1000,
		AvailableMarginPct: 100,
		PerTradeCapPct:     20,
		Leverage:           10,
		EntryPrice:         50000,
		MinPositionSize:    0.001,
		Instrument:         btcInstrument(),
	}
}

func TestAllocateReferenceScenario(t *testing.T) {
	alloc := NewAllocator(nil).Allocate(baseRequest())

	require.False(t, alloc.Rejected())
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.04")), "got %s", alloc.Quantity)
	assert.InDelta(t, 200.0, alloc.MaxMargin, 1e-9)
	assert.InDelta(t, 200.0, alloc.Margin, 1e-9)
}

func TestAllocateRespectsAvailableMargin(t *testing.T) {
	req := baseRequest()
	req.AvailableMarginPct = 5
	alloc := NewAllocator(nil).Allocate(req)

	// 50 USDT 保证金 × 10 / 50000 = 0.01
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.01")), "got %s", alloc.Quantity)
	assert.InDelta(t, 50.0, alloc.MaxMargin, 1e-9)
}

func TestAllocateFloorsToStep(t *testing.T) {
	req := baseRequest()
	req.EntryPrice = 43217.5
	alloc := NewAllocator(nil).Allocate(req)

	require.False(t, alloc.Rejected())
	// 2000 / 43217.5 = 0.04627...
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.046")), "got %s", alloc.Quantity)
	assert.LessOrEqual(t, alloc.Margin, alloc.MaxMargin)
}

func TestAllocateSmallBalances(t *testing.T) {
	req := baseRequest()
	req.Balance = 30
	// 上限 6 USDT × 10 / 50000 = 0.0012 → 取整后为 0.001
	alloc := NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.001")), "got %s", alloc.Quantity)

	req.Instrument.StepSize = 0.01
	req.Instrument.MinQty = 0.01
	req.Balance = 300
	req.EntryPrice = 1000
	// 上限 60 × 10 / 1000 = 0.6；最小数量不影响
	alloc = NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.6")), "got %s", alloc.Quantity)
}

func TestAllocateUsesMinimumWhenBudgetBelowMinQuantity(t *testing.T) {
	req := baseRequest()
	req.Instrument = exchange.Instrument{Symbol: "ETHUSDT", StepSize: 0.001, MinQty: 0.01, MinNotional: 5}
	req.EntryPrice = 3000
	req.Balance = 10
	// 上限 2 USDT × 10 / 3000 = 0.00667 < 0.01，最小数量所需保证金 3 > 2
	alloc := NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Rejected())
	assert.Equal(t, RejectBelowMinimumValue, alloc.Reason)

	req.Balance = 15
	// 上限恰好等于最小数量 0.01 所需的 3 USDT
	alloc = NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.01")), "got %s", alloc.Quantity)
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	for name, mutate := range map[string]func(*AllocationRequest){
		"zero balance":  func(r *AllocationRequest) { r.Balance = 0 },
		"zero price":    func(r *AllocationRequest) { r.EntryPrice = 0 },
		"zero leverage": func(r *AllocationRequest) { r.Leverage = 0 },
		"zero step":     func(r *AllocationRequest) { r.Instrument.StepSize = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)
			alloc := NewAllocator(nil).Allocate(req)
			assert.True(t, alloc.Rejected())
			assert.Equal(t, RejectInvalidInput, alloc.Reason)
		})
	}
}

func TestAllocateNoAvailableMargin(t *testing.T) {
	req := baseRequest()
	req.AvailableMarginPct = 0
	alloc := NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Rejected())
}

func TestAllocationNeverExceedsBudget(t *testing.T) {
	allocator := NewAllocator(nil)
	step := decimal.RequireFromString("0.001")
	for _, balance := range []float64{12.5, 100, 333.33, 1000, 98765.4} {
		for _, pct := range []float64{10, 26, 55.5, 100} {
			for _, price := range []float64{101.7, 2999.99, 50000, math.Nextafter(50000, math.Inf(1)), 64123.45} {
				for _, lev := range []int{1, 5, 10, 20} {
					req := baseRequest()
					req.Balance = balance
					req.AvailableMarginPct = pct
					req.EntryPrice = price
					req.Leverage = lev

					alloc := allocator.Allocate(req)
					if alloc.Rejected() {
						continue
					}
					assert.True(t, alloc.Quantity.Mod(step).IsZero(), "quantity %s not a step multiple", alloc.Quantity)
					assertWithinBudget(t, req, alloc)
				}
			}
		}
	}
}

// assertWithinBudget 以精确乘法校验 数量×价格 ≤ 单笔保证金上限×杠杆。
func assertWithinBudget(t *testing.T, req AllocationRequest, alloc Allocation) {
	t.Helper()
	balance := decimal.NewFromFloat(req.Balance)
	maxMargin := decimal.Min(
		balance.Mul(decimal.NewFromFloat(req.AvailableMarginPct)).Div(hundred),
		balance.Mul(decimal.NewFromFloat(req.PerTradeCapPct)).Div(hundred),
	)
	notional := alloc.Quantity.Mul(decimal.NewFromFloat(req.EntryPrice))
	limit := maxMargin.Mul(decimal.NewFromInt(int64(req.Leverage)))
	assert.True(t, notional.LessThanOrEqual(limit),
		"notional %s exceeds margin budget %s x %d", notional, maxMargin, req.Leverage)
}

func TestAllocateStaysWithinBudgetWhenQuotientRoundsUp(t *testing.T) {
	req := baseRequest()
	// 2000 / 50000.00000000001 略小于 0.04，16 位精度的除法会进位到 0.04
	req.EntryPrice = math.Nextafter(50000, math.Inf(1))
	alloc := NewAllocator(nil).Allocate(req)

	require.False(t, alloc.Rejected())
	assert.True(t, alloc.Quantity.Equal(decimal.RequireFromString("0.039")), "got %s", alloc.Quantity)
	assert.LessOrEqual(t, alloc.Margin, alloc.MaxMargin)
	assertWithinBudget(t, req, alloc)
}

func TestAllocateRejectsWhenMinimumExceedsBudgetAfterRounding(t *testing.T) {
	req := baseRequest()
	req.Balance = 2.5
	req.EntryPrice = math.Nextafter(5000, math.Inf(1))
	req.Instrument = exchange.Instrument{Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001}
	// 上限 0.5 × 10 / 5000.000000000001 略小于最小数量 0.001
	alloc := NewAllocator(nil).Allocate(req)
	assert.True(t, alloc.Rejected())
	assert.Equal(t, RejectBelowMinimumValue, alloc.Reason)
}

func TestFloorToStep(t *testing.T) {
	assert.True(t, FloorToStep(0.0469, 0.001).Equal(decimal.RequireFromString("0.046")))
	assert.True(t, FloorToStep(1.2, 0.5).Equal(decimal.RequireFromString("1")))
	assert.True(t, FloorToStep(0.3, 0.1).Equal(decimal.RequireFromString("0.3")))
}

func TestComputeBudget(t *testing.T) {
	now := time.Unix(1700000000, 0)
	budget := ComputeBudget(1000, []Exposure{
		{Symbol: "BTCUSDT", Amount: 0.04, EntryPrice: 50000, Leverage: 10},
		{Symbol: "ETHUSDT", Amount: -0.5, EntryPrice: 2000, Leverage: 10},
		{Symbol: "SOLUSDT", Amount: 0},
	}, now)

	assert.Equal(t, 2, budget.ActivePositions)
	assert.InDelta(t, 300.0, budget.CommittedMargin, 1e-9)
	assert.InDelta(t, 70.0, budget.AvailableMarginPct, 1e-9)
	assert.Equal(t, now, budget.ComputedAt)

	empty := ComputeBudget(0, nil, now)
	assert.Zero(t, empty.AvailableMarginPct)
}

type fakeAccount struct {
	balance    exchange.Balance
	positions  map[string][]exchange.PositionSnapshot
	failSymbol string
}

func (f *fakeAccount) Balance(context.Context) (exchange.Balance, error) {
	return f.balance, nil
}

func (f *fakeAccount) Positions(_ context.Context, symbol string) ([]exchange.PositionSnapshot, error) {
	if symbol == f.failSymbol {
		return nil, exchange.ErrConnectivity
	}
	return f.positions[symbol], nil
}

func TestTrackerRefreshUsesFallbackOnError(t *testing.T) {
	source := &fakeAccount{
		balance: exchange.Balance{Asset: "USDT", Wallet: 1000, Available: 800},
		positions: map[string][]exchange.PositionSnapshot{
			"BTCUSDT": {{Symbol: "BTCUSDT", Amount: 0.04, EntryPrice: 50000}},
		},
		failSymbol: "ETHUSDT",
	}
	tracker := NewTracker(source, map[string]int{"BTCUSDT": 10, "ETHUSDT": 20}, nil)

	var fallbackCalls []string
	budget, err := tracker.Refresh(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, func(symbol string) (Exposure, bool) {
		fallbackCalls = append(fallbackCalls, symbol)
		return Exposure{Symbol: symbol, Amount: 1, EntryPrice: 2000, Leverage: 20}, true
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT"}, fallbackCalls)
	assert.Equal(t, 2, budget.ActivePositions)
	assert.InDelta(t, 300.0, budget.CommittedMargin, 1e-9)
	assert.InDelta(t, 1000.0, budget.Balance, 1e-9)
}

type failingBalance struct{ *fakeAccount }

func (failingBalance) Balance(context.Context) (exchange.Balance, error) {
	return exchange.Balance{}, errors.New("down")
}

func TestTrackerComputePropagatesBalanceError(t *testing.T) {
	tracker := NewTracker(failingBalance{&fakeAccount{}}, nil, nil)
	_, err := tracker.Compute(context.Background(), nil)
	require.Error(t, err)
}

func TestTrackerLeverageDefaultsToOne(t *testing.T) {
	tracker := NewTracker(&fakeAccount{}, map[string]int{"BTCUSDT": 10}, nil)
	assert.Equal(t, 10, tracker.LeverageFor("BTCUSDT"))
	assert.Equal(t, 1, tracker.LeverageFor("XRPUSDT"))
}
