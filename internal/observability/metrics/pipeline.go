package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics captures per-stage health of the submission pipeline.
type PipelineMetrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	retries       *prometheus.CounterVec
	completed     prometheus.Counter
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return nil
	}

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedbackhub_pipeline_stage_duration_seconds",
		Help:    "Time spent in each submission stage.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	stageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbackhub_pipeline_stage_failures_total",
		Help: "Submissions that failed, by stage and error kind.",
	}, []string{"stage", "kind"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbackhub_pipeline_retries_total",
		Help: "Retried collaborator calls by stage.",
	}, []string{"stage"})

	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedbackhub_pipeline_completed_total",
		Help: "Submissions that reached the completed state.",
	})

	reg.MustRegister(stageDuration, stageFailures, retries, completed)

	return &PipelineMetrics{
		stageDuration: stageDuration,
		stageFailures: stageFailures,
		retries:       retries,
		completed:     completed,
	}
}

func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(sanitizeLabel(stage)).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(sanitizeLabel(stage), sanitizeLabel(kind)).Inc()
}

func (m *PipelineMetrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(sanitizeLabel(stage)).Inc()
}

func (m *PipelineMetrics) IncCompleted() {
	if m == nil {
		return
	}
	m.completed.Inc()
}

func sanitizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
