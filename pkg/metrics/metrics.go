// Package metrics exposes the collector's Prometheus instrumentation: a
// private registry holding every pipeline metric, and an HTTP server that
// serves the scrape and health endpoints.
package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

// Pipeline status gauge values.
const (
	StatusFailed  = 0
	StatusHealthy = 1
)

// Registry owns the collector's metric set. All metrics live on a private
// prometheus registry so tests can build isolated instances.
type Registry struct {
	reg *prometheus.Registry

	postsFetched      *prometheus.CounterVec
	postsDeduplicated prometheus.Counter
	postsProcessed    prometheus.Counter

	sentimentDistribution *prometheus.CounterVec
	sentimentDuration     prometheus.Histogram
	sentimentBatchSize    prometheus.Histogram

	pipelineDuration  prometheus.Histogram
	modelLoadDuration prometheus.Histogram

	pipelineErrors *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec

	pipelineStatus    prometheus.Gauge
	lastSuccessfulRun prometheus.Gauge
	memoryUsage       prometheus.Gauge
	buildInfo         *prometheus.GaugeVec
}

// NewRegistry builds the full metric set on a fresh registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,

		postsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posts_fetched_total",
			Help: "Submissions fetched from the source, per community.",
		}, []string{"community"}),
		postsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "posts_deduplicated_total",
			Help: "Submissions skipped because they were already seen.",
		}),
		postsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "posts_processed_total",
			Help: "Submissions fully committed to the output sink.",
		}),

		sentimentDistribution: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentiment_distribution_total",
			Help: "Committed submissions by sentiment label.",
		}, []string{"label"}),
		sentimentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentiment_analysis_duration_seconds",
			Help:    "Wall time of one classification batch.",
			Buckets: prometheus.DefBuckets,
		}),
		sentimentBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentiment_batch_size",
			Help:    "Number of texts per classification batch.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),

		pipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_total_duration_seconds",
			Help:    "End-to-end duration of one collection run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		modelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_load_duration_seconds",
			Help:    "Time to construct the sentiment classifier.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),

		pipelineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Errors by pipeline component and error kind.",
		}, []string{"component", "error_kind"}),
		sourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "source_errors_total",
			Help: "Source API errors by kind.",
		}, []string{"error_kind"}),

		pipelineStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_status",
			Help: "1 when the last run completed, 0 otherwise.",
		}),
		lastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_last_successful_run_timestamp",
			Help: "Unix time of the last completed run.",
		}),
		memoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Resident set size of the collector process.",
		}),
		buildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, value fixed at 1.",
		}, []string{"version", "commit", "build_date"}),
	}

	return r
}

// Gatherer exposes the underlying registry for scraping and for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SetBuildInfo publishes the build metadata gauge.
func (r *Registry) SetBuildInfo(version, commit, buildDate string) {
	r.buildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// PostsFetched counts submissions fetched for a community.
func (r *Registry) PostsFetched(community string, n int) {
	r.postsFetched.WithLabelValues(community).Add(float64(n))
}

// PostDeduplicated counts one skipped duplicate.
func (r *Registry) PostDeduplicated() {
	r.postsDeduplicated.Inc()
}

// PostProcessed counts one committed submission with its sentiment label.
func (r *Registry) PostProcessed(label string) {
	r.postsProcessed.Inc()
	r.sentimentDistribution.WithLabelValues(label).Inc()
}

// ObserveSentimentBatch records one classification batch. This satisfies the
// observer interface the sentiment engine expects.
func (r *Registry) ObserveSentimentBatch(size int, elapsed time.Duration) {
	r.sentimentBatchSize.Observe(float64(size))
	r.sentimentDuration.Observe(elapsed.Seconds())
}

// SentimentError counts one classifier failure by kind.
func (r *Registry) SentimentError(kind string) {
	r.pipelineErrors.WithLabelValues("classifier", kind).Inc()
}

// PipelineError counts one error by component and kind.
func (r *Registry) PipelineError(component, kind string) {
	r.pipelineErrors.WithLabelValues(component, kind).Inc()
}

// SourceError counts one source API error by kind.
func (r *Registry) SourceError(kind string) {
	r.sourceErrors.WithLabelValues(kind).Inc()
}

// ObserveRunDuration records the end-to-end run duration.
func (r *Registry) ObserveRunDuration(elapsed time.Duration) {
	r.pipelineDuration.Observe(elapsed.Seconds())
}

// ObserveModelLoad records classifier construction time.
func (r *Registry) ObserveModelLoad(elapsed time.Duration) {
	r.modelLoadDuration.Observe(elapsed.Seconds())
}

// SetPipelineStatus publishes the run outcome gauge.
func (r *Registry) SetPipelineStatus(status float64) {
	r.pipelineStatus.Set(status)
}

// MarkSuccessfulRun stamps the last-success gauge with the current time.
func (r *Registry) MarkSuccessfulRun(at time.Time) {
	r.lastSuccessfulRun.Set(float64(at.Unix()))
}

// UpdateMemoryUsage samples the process resident set size. Sampling failures
// leave the gauge at its previous value.
func (r *Registry) UpdateMemoryUsage() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return
	}
	r.memoryUsage.Set(float64(mem.RSS))
}
