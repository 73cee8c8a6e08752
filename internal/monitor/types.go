package monitor

import (
	"time"
)

// Level 为事件级别。
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventLifecycle      EventType = "lifecycle"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventExitDeferred   EventType = "exit_deferred"
	EventReconcile      EventType = "reconcile"
	EventCycleSummary   EventType = "cycle_summary"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType      `json:"type"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Symbol    string         `json:"symbol,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent 构造带当前时间戳的事件。
func NewEvent(typ EventType, level Level, symbol, message string, fields map[string]any) Event {
	return Event{
		Type:      typ,
		Level:     level,
		Message:   message,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
}

// Float 读取数值字段，缺失或类型不符时返回 false。
func (e Event) Float(key string) (float64, bool) {
	switch v := e.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// String 读取字符串字段。
func (e Event) String(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}
