package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"asterbot/internal/store"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	level TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	fields TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`

// Journal 把事件追加写入 SQLite，仅供事后查询，从不回读为交易状态。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJournal 初始化事件日志并创建表结构。
func NewJournal(ctx context.Context, st *store.Store, logger *zap.Logger) (*Journal, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, journalSchema); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return &Journal{db: st.DB(), logger: logger}, nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, level, symbol, message, fields, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.Type), string(event.Level), event.Symbol, event.Message, string(payload),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// Emit 实现 Sink，写入失败只记录日志。
func (j *Journal) Emit(ctx context.Context, event Event) {
	if err := j.Record(ctx, event); err != nil {
		j.logger.Warn("记录监控事件失败", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件，eventType 为空时不过滤。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, level, symbol, message, fields, created_at FROM monitor_events`
	args := make([]any, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ, level, symbol, message, payload, created string
		)
		if scanErr := rows.Scan(&typ, &level, &symbol, &message, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		var fields map[string]any
		if len(payload) > 2 {
			if err := json.Unmarshal([]byte(payload), &fields); err != nil {
				return nil, fmt.Errorf("monitor: 解析事件字段失败: %w", err)
			}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Level:     Level(level),
			Symbol:    symbol,
			Message:   message,
			Timestamp: ts,
			Fields:    fields,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}
	return events, nil
}
