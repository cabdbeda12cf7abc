package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metabinary-ltd/drivewatch/internal/types"
)

const (
	ComponentDevices = "devices"
	ComponentDiskIDs = "disk_ids"
	ComponentSmart   = "smart"
	ComponentAlerts  = "alerts"
	ComponentSummary = "summary"
)

// Metrics owns a private registry so nothing leaks in from the default one.
type Metrics struct {
	reg         *prometheus.Registry
	inspections *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	buildInfo   prometheus.Gauge
}

func New(version, rev string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		inspections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_inspections_total",
				Help: "Total number of inspections by component and result kind.",
			},
			[]string{"component", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drivewatch_inspection_duration_seconds",
				Help:    "Duration of inspections by component in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		buildInfo: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "drivewatch_build_info",
			Help:        "Build info of drivewatch.",
			ConstLabels: prometheus.Labels{"version": version, "rev": rev},
		}),
	}
	m.reg.MustRegister(m.inspections, m.latency, m.buildInfo)
	m.buildInfo.Set(1)
	return m
}

// Observe records one inspection. The result label is the error kind.
func (m *Metrics) Observe(component string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.inspections.WithLabelValues(component, types.Kind(err)).Inc()
	m.latency.WithLabelValues(component).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
