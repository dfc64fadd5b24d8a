package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records the publish pipeline's externally visible behavior.
type PipelineMetrics struct {
	attempts       *prometheus.CounterVec
	publishSeconds *prometheus.HistogramVec
	enqueued       prometheus.Counter
	queueDepth     prometheus.Gauge
	tokenRefreshes *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_attempts_total",
		Help: "Publish attempts by outcome.",
	}, []string{"outcome"})
	publishSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_duration_seconds",
		Help:    "Duration of publish gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	enqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_enqueued_total",
		Help: "Content items claimed and enqueued by the scheduler.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Jobs waiting across all per-user dispatch queues.",
	})
	tokenRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_refreshes_total",
		Help: "OAuth token refresh calls by result.",
	}, []string{"result"})
	reg.MustRegister(attempts, publishSeconds, enqueued, queueDepth, tokenRefreshes)
	return &PipelineMetrics{
		attempts:       attempts,
		publishSeconds: publishSeconds,
		enqueued:       enqueued,
		queueDepth:     queueDepth,
		tokenRefreshes: tokenRefreshes,
	}
}

// ObserveAttempt records one publish attempt and its gateway latency.
func (p *PipelineMetrics) ObserveAttempt(outcome string, duration time.Duration) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
	p.publishSeconds.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncEnqueued counts a scheduler claim.
func (p *PipelineMetrics) IncEnqueued() {
	if p == nil || p.enqueued == nil {
		return
	}
	p.enqueued.Inc()
}

// AddQueueDepth adjusts the queue depth gauge by delta.
func (p *PipelineMetrics) AddQueueDepth(delta float64) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Add(delta)
}

// IncTokenRefresh counts one refresh call by result (refreshed, reused, failed).
func (p *PipelineMetrics) IncTokenRefresh(result string) {
	if p == nil || p.tokenRefreshes == nil {
		return
	}
	p.tokenRefreshes.WithLabelValues(normalizeLabel(result)).Inc()
}
