package httpapi

import (
	"addrscan/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics records scan progress and implements application.ScanObserver.
type Metrics struct {
	registry        *prometheus.Registry
	records         *prometheus.CounterVec
	findings        *prometheus.CounterVec
	resolveFailures *prometheus.CounterVec
	runs            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addrscan_records_scanned_total",
			Help: "Captured RPC records processed per chain.",
		}, []string{"chain"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addrscan_findings_total",
			Help: "Sender addresses found per chain and extraction rule.",
		}, []string{"chain", "rule"}),
		resolveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addrscan_resolve_failures_total",
			Help: "Transaction lookups that failed or returned nothing.",
		}, []string{"chain"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addrscan_runs_total",
			Help: "Completed scan runs by mode and outcome.",
		}, []string{"mode", "status"}),
	}
	m.registry.MustRegister(
		m.records,
		m.findings,
		m.resolveFailures,
		m.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) OnRecord(chain string) {
	m.records.WithLabelValues(chain).Inc()
}

func (m *Metrics) OnFindings(chain string, findings []domain.Finding) {
	for _, finding := range findings {
		m.findings.WithLabelValues(chain, string(finding.Rule)).Inc()
	}
}

func (m *Metrics) OnResolveFailure(chain string) {
	m.resolveFailures.WithLabelValues(chain).Inc()
}

func (m *Metrics) OnRunFinished(mode domain.ScanMode, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(string(mode), status).Inc()
}
