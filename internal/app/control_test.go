package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asterbot/internal/monitor"
	"asterbot/internal/position"
)

func startControlServer(t *testing.T) (*Handle, *fakeExchange, *httptest.Server) {
	t.Helper()
	cfg := testConfig("AAAUSDT", "BBBUSDT")
	cfg.Scheduler.CloseOnShutdown = false
	gw := newFakeExchange(map[string]float64{"AAAUSDT": 100, "BBBUSDT": 100})
	gw.hold("AAAUSDT", 1, 100)
	gw.hold("BBBUSDT", -2, 100)

	h, err := Start(context.Background(), Deps{
		Config:  cfg,
		Gateway: gw,
		Signals: scriptedSignals{},
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.Positions()) == 2 }, time.Second, 5*time.Millisecond)

	server := monitor.NewServer(":0", 0, nil, nil, nil, nil)
	h.mountControl(server)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return h, gw, srv
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestControlServesStatusAndPositions(t *testing.T) {
	h, _, srv := startControlServer(t)
	defer func() {
		h.Stop()
		require.NoError(t, h.Wait())
	}()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status Status
	decodeBody(t, resp, &status)
	assert.True(t, status.Running)
	assert.GreaterOrEqual(t, status.Stats.CyclesCompleted, 1)
	assert.Zero(t, status.Stats.ErrorsCount)
	assert.Equal(t, position.StateOpen, status.Symbols["BBBUSDT"].State)
	assert.Equal(t, "SHORT", status.Symbols["BBBUSDT"].Side)

	resp, err = http.Get(srv.URL + "/positions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var positions []position.Snapshot
	decodeBody(t, resp, &positions)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAAUSDT", positions[0].Symbol)
	assert.InDelta(t, 2.0, positions[1].Position.Quantity, 1e-9)
}

func TestControlClosesRequestedSymbol(t *testing.T) {
	h, gw, srv := startControlServer(t)

	resp, err := http.Get(srv.URL + "/positions/close")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/positions/close?symbol=xxxusdt", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, gw.orderCount())

	resp, err = http.Post(srv.URL+"/positions/close?symbol=aaausdt", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var remaining []position.Snapshot
	decodeBody(t, resp, &remaining)
	require.Len(t, remaining, 1)
	assert.Equal(t, "BBBUSDT", remaining[0].Symbol)
	assert.Equal(t, 1, gw.orderCount())
	assert.True(t, gw.orders[0].ReduceOnly)

	h.Stop()
	require.NoError(t, h.Wait())

	resp, err = http.Post(srv.URL+"/positions/close", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
