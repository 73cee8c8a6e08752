package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"asterbot/internal/exchange"
)

func TestBuildOrderRequest_MarketReduceOnly(t *testing.T) {
	req, err := buildOrderRequest(" btcusdt ", exchange.OrderSideSell, decimal.RequireFromString("0.046"), true, "ab1")
	if err != nil {
		t.Fatalf("buildOrderRequest returned error: %v", err)
	}

	if req.Symbol != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT, got %s", req.Symbol)
	}
	if req.Side != exchange.OrderSideSell {
		t.Errorf("expected side SELL, got %s", req.Side)
	}
	if got := req.Quantity.String(); got != "0.046" {
		t.Errorf("expected quantity 0.046, got %s", got)
	}
	if !req.ReduceOnly {
		t.Errorf("expected reduceOnly=true")
	}
	if req.ClientOrderID != "ab1" {
		t.Errorf("expected client order id ab1, got %s", req.ClientOrderID)
	}
}

func TestBuildOrderRequest_Errors(t *testing.T) {
	cases := map[string]struct {
		symbol string
		side   exchange.OrderSide
		qty    decimal.Decimal
		want   string
	}{
		"empty symbol":  {"", exchange.OrderSideBuy, decimal.NewFromInt(1), "symbol"},
		"invalid side":  {"BTCUSDT", exchange.OrderSide("LONG"), decimal.NewFromInt(1), "下单方向"},
		"zero quantity": {"BTCUSDT", exchange.OrderSideBuy, decimal.Zero, "数量"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildOrderRequest(tc.symbol, tc.side, tc.qty, false, "id")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewClientOrderID_FitsExchangeLimit(t *testing.T) {
	a, b := newClientOrderID(), newClientOrderID()
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if len(a) > 36 {
		t.Fatalf("client order id too long: %d", len(a))
	}
	if !strings.HasPrefix(a, clientOrderPrefix) {
		t.Errorf("expected prefix %q, got %s", clientOrderPrefix, a)
	}
}

func TestExecutorSubmit_SingleAttempt(t *testing.T) {
	client := &mockOrderPlacer{err: exchange.ErrConnectivity}
	exec := NewExecutor(client, nil)

	_, err := exec.Submit(context.Background(), "BTCUSDT", exchange.OrderSideBuy, decimal.RequireFromString("0.04"), false)
	if !errors.Is(err, exchange.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(client.requests))
	}
}

func TestExecutorSubmit_FillsClientOrderID(t *testing.T) {
	client := &mockOrderPlacer{result: exchange.OrderResult{OrderID: "42", Status: "NEW"}}
	exec := NewExecutor(client, nil)
	exec.newID = func() string { return "abfixed" }

	result, err := exec.Submit(context.Background(), "ETHUSDT", exchange.OrderSideBuy, decimal.RequireFromString("0.5"), true)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.OrderID != "42" || result.ClientOrderID != "abfixed" {
		t.Errorf("unexpected result %+v", result)
	}

	req := client.requests[0]
	if !req.ReduceOnly || req.Symbol != "ETHUSDT" || req.ClientOrderID != "abfixed" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestExecutorSubmit_RejectsInvalidQuantityWithoutCalling(t *testing.T) {
	client := &mockOrderPlacer{}
	exec := NewExecutor(client, nil)

	if _, err := exec.Submit(context.Background(), "ETHUSDT", exchange.OrderSideBuy, decimal.Zero, false); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if len(client.requests) != 0 {
		t.Fatalf("expected no submission, got %d", len(client.requests))
	}
}

type mockOrderPlacer struct {
	requests []exchange.OrderRequest
	result   exchange.OrderResult
	err      error
}

func (m *mockOrderPlacer) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return exchange.OrderResult{}, m.err
	}
	return m.result, nil
}
