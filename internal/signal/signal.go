package signal

import (
	"context"
	"fmt"
	"strings"
)

// Action 为信号建议动作。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction 解析动作字符串，未知取值返回错误。
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("signal: 未知动作 %q", s)
	}
}

// Signal 为一次信号评估结果，Confidence 位于 [0,1]。
type Signal struct {
	Action     Action
	Confidence float64
	Reasons    []string
}

// Hold 返回观望信号。
func Hold(reasons ...string) Signal {
	return Signal{Action: ActionHold, Reasons: reasons}
}

// Request 为信号评估的输入。
type Request struct {
	Symbol string
	Price  float64
	Closes []float64
}

// Provider 根据行情窗口给出交易信号。
type Provider interface {
	Evaluate(ctx context.Context, req Request) (Signal, error)
}
