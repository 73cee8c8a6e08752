package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"asterbot/internal/config"
)

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	r := newRetrier(fastRetry(), zap.NewNop(), classifyBinance)

	var calls int32
	err := r.do(context.Background(), "op", func() error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &common.APIError{Code: -1003, Message: "too many requests"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestRetrierStopsOnRejection(t *testing.T) {
	r := newRetrier(fastRetry(), zap.NewNop(), classifyBinance)

	var calls int32
	err := r.do(context.Background(), "op", func() error {
		atomic.AddInt32(&calls, 1)
		return &common.APIError{Code: -2019, Message: "margin is insufficient"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, int32(1), calls)
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	r := newRetrier(fastRetry(), zap.NewNop(), classifyBinance)

	var calls int32
	err := r.do(context.Background(), "op", func() error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls)
}

func TestRetrierHonoursCancellation(t *testing.T) {
	r := newRetrier(fastRetry(), zap.NewNop(), classifyBinance)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.do(ctx, "op", func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrierOnceDoesNotRetry(t *testing.T) {
	r := newRetrier(fastRetry(), zap.NewNop(), classifyBinance)

	var calls int32
	err := r.once("create_order", func() error {
		atomic.AddInt32(&calls, 1)
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Equal(t, int32(1), calls)
}

func TestClassifyCCXT(t *testing.T) {
	err, retry := classifyCCXT(&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "boom"})
	assert.True(t, retry)
	assert.ErrorIs(t, err, ErrConnectivity)

	err, retry = classifyCCXT(&ccxt.Error{Type: ccxt.OnMaintenanceErrType, Message: "maintenance"})
	assert.False(t, retry)
	assert.ErrorIs(t, err, ErrMaintenance)

	err, retry = classifyCCXT(&ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "no funds"})
	assert.False(t, retry)
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestDefaultInstrument(t *testing.T) {
	inst := DefaultInstrument("BTCUSDT", 0)
	assert.Equal(t, DefaultStepSize, inst.StepSize)
	assert.Equal(t, DefaultStepSize, inst.MinQty)
	assert.Equal(t, DefaultMinNotional, inst.MinNotional)

	assert.Equal(t, 0.01, DefaultInstrument("ETHUSDT", 0.01).MinQty)
}

func TestAsterLastPriceUsesTickerPrice(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		if r.URL.Path != "/fapi/v2/ticker/price" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"50123.5","time":1700000000000}`)
	}))
	defer srv.Close()

	gw := NewAsterGateway(config.ExchangeConfig{BaseURL: srv.URL, Retry: fastRetry()}, zap.NewNop())
	price, err := gw.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50123.5, price)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/fapi/v2/ticker/price?symbol=BTCUSDT"}, paths)
}

type stubSource struct {
	price    float64
	priceErr error
	candles  []Candle
}

func (s stubSource) LastPrice(context.Context, string) (float64, error) {
	return s.price, s.priceErr
}

func (s stubSource) Candles(context.Context, string, string, int) ([]Candle, error) {
	return s.candles, nil
}

func TestMarketDataServiceSnapshot(t *testing.T) {
	svc := NewMarketDataService(stubSource{
		price:   101,
		candles: []Candle{{Close: 99}, {Close: 100}, {Close: 101}},
	}, "1m", 3, nil)

	snap, err := svc.Snapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 101.0, snap.Price)
	assert.Equal(t, []float64{99, 100, 101}, snap.Closes)
}

func TestMarketDataServicePropagatesErrors(t *testing.T) {
	svc := NewMarketDataService(stubSource{priceErr: ErrConnectivity}, "1m", 3, nil)
	_, err := svc.Snapshot(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrConnectivity)
}
