package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exported by the agent on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	CapacityAvailable  prometheus.Gauge
	CapacityMax        prometheus.Gauge
	ExperimentsRunning prometheus.Gauge
	Admissions         *prometheus.CounterVec
	Finished           *prometheus.CounterVec
	Results            *prometheus.CounterVec
	ReportsFailed      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CapacityAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fgmachine_capacity_available",
			Help: "Unreserved capacity of the machine.",
		}),
		CapacityMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fgmachine_capacity_max",
			Help: "Configured capacity of the machine.",
		}),
		ExperimentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fgmachine_experiments_running",
			Help: "Number of experiments currently running.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgmachine_admissions_total",
			Help: "Start requests by outcome (admitted, refused, failed).",
		}, []string{"result"}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgmachine_experiments_finished_total",
			Help: "Finished experiments by terminal status.",
		}, []string{"status"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgmachine_results_total",
			Help: "Harvested result files by outcome (read, invalid).",
		}, []string{"result"}),
		ReportsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgmachine_reports_failed_total",
			Help: "Coordinator reports that could not be delivered, by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CapacityAvailable,
		m.CapacityMax,
		m.ExperimentsRunning,
		m.Admissions,
		m.Finished,
		m.Results,
		m.ReportsFailed,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
