package app

import (
	"time"

	"asterbot/internal/position"
)

// Stats 为进程级累计统计，仅在启动时清零。
type Stats struct {
	CyclesCompleted int           `json:"cycles_completed"`
	TradesCount     int           `json:"trades_count"`
	TotalVolume     float64       `json:"total_volume"`
	TotalPnL        float64       `json:"total_pnl"`
	ErrorsCount     int           `json:"errors_count"`
	LastError       string        `json:"last_error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Uptime          time.Duration `json:"uptime"`
}

// SymbolResult 为单个交易对在一个周期内的结果。
type SymbolResult struct {
	Symbol string                 `json:"symbol"`
	State  position.State         `json:"state"`
	Action position.OutcomeAction `json:"action"`
	Reason string                 `json:"reason,omitempty"`
	Volume float64                `json:"volume,omitempty"`
	PnL    float64                `json:"pnl,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CycleResult 为一个周期的汇总。
type CycleResult struct {
	Number             int                     `json:"number"`
	StartedAt          time.Time               `json:"started_at"`
	Duration           time.Duration           `json:"duration"`
	ActivePositions    int                     `json:"active_positions"`
	AvailableMarginPct float64                 `json:"available_margin_pct"`
	Symbols            map[string]SymbolResult `json:"symbols"`
	TradesCount        int                     `json:"trades_count"`
	Volume             float64                 `json:"volume"`
	PnL                float64                 `json:"pnl"`
	Errors             int                     `json:"errors"`
}

// Status 为运行状态视图。
type Status struct {
	Running         bool                         `json:"running"`
	Stats           Stats                        `json:"stats"`
	LastCycle       CycleResult                  `json:"last_cycle"`
	CyclesPerMinute float64                      `json:"cycles_per_minute"`
	MarginUsagePct  float64                      `json:"margin_usage_pct"`
	Symbols         map[string]position.Snapshot `json:"symbols"`
}
