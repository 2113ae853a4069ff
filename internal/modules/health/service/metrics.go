package service

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики движка для Prometheus + атомарное состояние для /healthz.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal   prometheus.Counter
	SignalsTotal *prometheus.CounterVec // label: direction
	OrdersTotal  *prometheus.CounterVec // labels: broker, side
	ErrorsTotal  *prometheus.CounterVec // label: kind
	Enabled      prometheus.Gauge
	TickDuration prometheus.Histogram

	startedAt    time.Time
	lastTickUnix atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total", Help: "Completed scheduler ticks",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total", Help: "Generated directional signals",
		}, []string{"direction"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total", Help: "Orders placed via brokers",
		}, []string{"broker", "side"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_tick_errors_total", Help: "Per-symbol tick failures by kind",
		}, []string{"kind"}),
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_enabled", Help: "1 when the scheduler is trading",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "engine_tick_duration_seconds", Help: "Wall time of one full tick",
			Buckets: prometheus.DefBuckets,
		}),
		startedAt: time.Now(),
	}
	m.registry.MustRegister(
		m.TicksTotal, m.SignalsTotal, m.OrdersTotal, m.ErrorsTotal, m.Enabled, m.TickDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TouchTick(t time.Time) { m.lastTickUnix.Store(t.Unix()) }

func (m *Metrics) LastTick() time.Time {
	u := m.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (m *Metrics) Uptime() time.Duration { return time.Since(m.startedAt) }
