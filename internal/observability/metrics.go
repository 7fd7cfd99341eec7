package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RowsAssembled   prometheus.Counter
	AssemblyErrors  prometheus.Counter
	PipelineRunning prometheus.Gauge
	PanelReady      prometheus.Gauge

	// Stage metrics.
	StageDuration *prometheus.HistogramVec // labels: stage={boundary,mortality,population,climate,airquality,assemble}
	StageErrors   *prometheus.CounterVec   // labels: stage

	// Upstream fetch metrics.
	FetchRequests *prometheus.CounterVec   // labels: source={eurostat,eea,boundary}, outcome={success,error}
	FetchDuration *prometheus.HistogramVec // labels: source
	FetchRetries  *prometheus.CounterVec   // labels: source

	// Data quality metrics.
	UnknownPollutants prometheus.Counter
	DroppedRows       *prometheus.CounterVec // labels: reason={beyond_horizon,duplicate_key}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "rows_assembled_total",
			Help:      "Total panel rows written across all builds.",
		}),
		AssemblyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "assembly_errors_total",
			Help:      "Total panel assembly failures.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel_etl",
			Name:      "pipeline_running",
			Help:      "1 while a panel build is in progress, 0 otherwise.",
		}),
		PanelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel_etl",
			Name:      "panel_ready",
			Help:      "1 once at least one panel build has completed successfully.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "panel_etl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "fetch_requests_total",
			Help:      "Upstream HTTP requests by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "panel_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "fetch_retries_total",
			Help:      "Upstream request retries by source.",
		}, []string{"source"}),
		UnknownPollutants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "unknown_pollutants_total",
			Help:      "Air-quality records whose pollutant code has no name mapping.",
		}),
		DroppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel_etl",
			Name:      "dropped_rows_total",
			Help:      "Source rows dropped during assembly by reason.",
		}, []string{"reason"}),
	}

	prometheus.MustRegister(
		m.RowsAssembled,
		m.AssemblyErrors,
		m.PipelineRunning,
		m.PanelReady,
		m.StageDuration,
		m.StageErrors,
		m.FetchRequests,
		m.FetchDuration,
		m.FetchRetries,
		m.UnknownPollutants,
		m.DroppedRows,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsAssembled:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "panel_etl", Name: "rows_assembled_total"}),
		AssemblyErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "panel_etl", Name: "assembly_errors_total"}),
		PipelineRunning:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "panel_etl", Name: "pipeline_running"}),
		PanelReady:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "panel_etl", Name: "panel_ready"}),
		StageDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "panel_etl", Name: "stage_duration_seconds"}, []string{"stage"}),
		StageErrors:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "panel_etl", Name: "stage_errors_total"}, []string{"stage"}),
		FetchRequests:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "panel_etl", Name: "fetch_requests_total"}, []string{"source", "outcome"}),
		FetchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "panel_etl", Name: "fetch_duration_seconds"}, []string{"source"}),
		FetchRetries:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "panel_etl", Name: "fetch_retries_total"}, []string{"source"}),
		UnknownPollutants: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "panel_etl", Name: "unknown_pollutants_total"}),
		DroppedRows:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "panel_etl", Name: "dropped_rows_total"}, []string{"reason"}),
	}
}
