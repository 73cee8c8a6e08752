package position

import (
	"time"
)

// State 为状态机状态。
type State string

const (
	StateNone State = "NONE"
	StateOpen State = "OPEN"
)

// 平仓原因。
const (
	ReasonTakeProfit = "TAKE_PROFIT_ROE"
	ReasonStopLoss   = "STOP_LOSS_ROE"
	ReasonMaxTime    = "MAX_TIME_REACHED"
	ReasonShutdown   = "SHUTDOWN"
	ReasonManual     = "MANUAL_CLOSE"
)

// Position 为单个交易对的持仓。Adopted 表示由对账接管，EntryTime 为接管时刻。
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"-"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	EntryTime     time.Time `json:"entry_time"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Adopted       bool      `json:"adopted"`
}

// Stats 为单个交易对的累计统计。
type Stats struct {
	Trades      int     `json:"trades"`
	Volume      float64 `json:"volume"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Snapshot 为状态机的只读视图。
type Snapshot struct {
	Symbol   string    `json:"symbol"`
	State    State     `json:"state"`
	Side     string    `json:"side,omitempty"`
	Position *Position `json:"position,omitempty"`
	Stats    Stats     `json:"stats"`
}

// OutcomeAction 为一次评估产生的动作。
type OutcomeAction string

const (
	ActionNone   OutcomeAction = "none"
	ActionOpened OutcomeAction = "opened"
	ActionClosed OutcomeAction = "closed"
	ActionHeld   OutcomeAction = "held"
)

// Outcome 为一次入场或出场评估的结果。
type Outcome struct {
	Action   OutcomeAction
	Reason   string
	Side     Side
	Quantity float64
	Price    float64
	Volume   float64
	PnL      float64
}

// Acted 表示发生了成交。
func (o Outcome) Acted() bool {
	return o.Action == ActionOpened || o.Action == ActionClosed
}
