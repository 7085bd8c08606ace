// Package metrics exposes Prometheus collectors for ticks, dispatches and commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the bot's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	Dispatches      *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	EnabledTenants  prometheus.Gauge
	SettingsSaveErr prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remindbot_ticks_total",
			Help: "Scheduler ticks that scanned the settings table",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remindbot_tick_duration_seconds",
			Help:    "Time to dispatch to every enabled tenant in one tick",
			Buckets: prometheus.DefBuckets,
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_dispatches_total",
			Help: "Per-tenant notification dispatches by outcome",
		}, []string{"outcome"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_commands_total",
			Help: "Handled commands by subcommand and outcome",
		}, []string{"subcommand", "outcome"}),
		EnabledTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remindbot_enabled_tenants",
			Help: "Tenants eligible for dispatch at the last tick",
		}),
		SettingsSaveErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remindbot_settings_save_errors_total",
			Help: "Failed settings writes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickDuration, m.Dispatches, m.Commands, m.EnabledTenants, m.SettingsSaveErr)
	}
	return m
}

func (m *Metrics) ObserveTick(d time.Duration, eligible int) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
	m.EnabledTenants.Set(float64(eligible))
}

// Dispatch records one dispatch outcome ("ok", "failed", "skipped").
func (m *Metrics) Dispatch(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Command(sub, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(sub, outcome).Inc()
}

func (m *Metrics) SaveFailed() {
	if m == nil {
		return
	}
	m.SettingsSaveErr.Inc()
}
