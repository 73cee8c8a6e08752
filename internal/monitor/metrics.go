package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 以 Prometheus 指标暴露运行状态，同时作为 Sink 统计事件。
type Metrics struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	activePositions prometheus.Gauge
	availableMargin prometheus.Gauge
	opens           *prometheus.CounterVec
	closes          *prometheus.CounterVec
	realizedPnL     *prometheus.GaugeVec
	errors          *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到 reg。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asterbot_cycles_total",
			Help: "Completed scheduler cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asterbot_cycle_duration_seconds",
			Help:    "Wall time of a scheduler cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asterbot_active_positions",
			Help: "Open positions reported by the exchange",
		}),
		availableMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asterbot_available_margin_pct",
			Help: "Available margin percentage of the last budget",
		}),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asterbot_positions_opened_total",
			Help: "Positions opened",
		}, []string{"symbol", "side"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asterbot_positions_closed_total",
			Help: "Positions closed split by reason",
		}, []string{"symbol", "reason"}),
		realizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asterbot_realized_pnl_usd",
			Help: "Cumulative net realized PnL",
		}, []string{"symbol"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asterbot_errors_total",
			Help: "Errors observed per symbol",
		}, []string{"symbol"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.activePositions, m.availableMargin,
			m.opens, m.closes, m.realizedPnL, m.errors)
	}
	return m
}

// ObserveCycle 记录一次周期的结果。
func (m *Metrics) ObserveCycle(activePositions int, availableMarginPct float64, duration time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(duration.Seconds())
	m.activePositions.Set(float64(activePositions))
	m.availableMargin.Set(availableMarginPct)
}

// Emit 实现 Sink。
func (m *Metrics) Emit(_ context.Context, event Event) {
	switch event.Type {
	case EventPositionOpened:
		m.opens.WithLabelValues(event.Symbol, event.String("side")).Inc()
	case EventPositionClosed:
		m.closes.WithLabelValues(event.Symbol, event.String("reason")).Inc()
		if pnl, ok := event.Float("pnl"); ok {
			m.realizedPnL.WithLabelValues(event.Symbol).Add(pnl)
		}
	case EventError:
		m.errors.WithLabelValues(event.Symbol).Inc()
	}
}
