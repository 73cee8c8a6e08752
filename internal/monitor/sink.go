package monitor

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Sink 接收核心逻辑产生的事件。实现需自行处理失败，不得阻塞调用方。
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Sinks 把事件依次分发给构造时注入的全部 Sink。
type Sinks []Sink

// Emit 实现 Sink。
func (s Sinks) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event = NewEvent(event.Type, event.Level, event.Symbol, event.Message, event.Fields)
	}
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// ZapSink 把事件写入结构化日志。
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建日志 Sink。
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Emit 实现 Sink。
func (z *ZapSink) Emit(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, len(event.Fields)+2)
	fields = append(fields, zap.String("event", string(event.Type)))
	if event.Symbol != "" {
		fields = append(fields, zap.String("symbol", event.Symbol))
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, event.Fields[k]))
	}

	switch event.Level {
	case LevelDebug:
		z.logger.Debug(event.Message, fields...)
	case LevelWarn:
		z.logger.Warn(event.Message, fields...)
	case LevelError:
		z.logger.Error(event.Message, fields...)
	default:
		z.logger.Info(event.Message, fields...)
	}
}
