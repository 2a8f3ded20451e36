package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/nvguard/internal/anomaly"
	"github.com/steveyegge/nvguard/internal/diag"
)

// Metrics holds the monitor gauges and counters on a private registry so a
// node_exporter textfile collector can pick them up.
type Metrics struct {
	Registry *prometheus.Registry

	ticks      prometheus.Counter
	alerts     *prometheus.CounterVec
	rnaEvents  prometheus.Gauge
	anomalous  prometheus.Gauge
	modemReady prometheus.Gauge
	lastTick   prometheus.Gauge
}

// NewMetrics registers the monitor collectors for device on a new registry.
func NewMetrics(device string) *Metrics {
	labels := prometheus.Labels{"device": device}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "nvg_monitor_ticks_total",
			Help:        "Monitor iterations completed.",
			ConstLabels: labels,
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nvg_monitor_alerts_total",
			Help:        "Alerts raised, by reason code.",
			ConstLabels: labels,
		}, []string{"reason"}),
		rnaEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nvg_radio_not_available_events",
			Help:        "RADIO_NOT_AVAILABLE lines in the last radio log window.",
			ConstLabels: labels,
		}),
		anomalous: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nvg_monitor_anomalous",
			Help:        "1 when the last tick raised an alert.",
			ConstLabels: labels,
		}),
		modemReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nvg_modem_ready",
			Help:        "1 when the modem status property reads ready.",
			ConstLabels: labels,
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nvg_monitor_last_tick_timestamp_seconds",
			Help:        "Unix time of the last completed tick.",
			ConstLabels: labels,
		}),
	}
	m.Registry.MustRegister(m.ticks, m.alerts, m.rnaEvents, m.anomalous, m.modemReady, m.lastTick)
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe records one tick.
func (m *Metrics) Observe(s *diag.Snapshot, v anomaly.Verdict) {
	m.ticks.Inc()
	m.rnaEvents.Set(float64(s.RadioEventCount))
	m.anomalous.Set(boolGauge(v.Anomalous))
	m.modemReady.Set(boolGauge(s.MDStatus() == "ready"))
	m.lastTick.Set(float64(s.Timestamp.Unix()))
	for _, r := range v.Reasons {
		m.alerts.WithLabelValues(string(r)).Inc()
	}
}

// WriteTextfile atomically replaces path with the current metric values.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
