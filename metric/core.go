package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core pipeline metrics shared across components.
// Component-specific metrics (cache hit rates, worker pool depth) are
// registered separately through the MetricsRegistry.
type Metrics struct {
	// Translation metrics
	TranslationRequests *prometheus.CounterVec
	TranslationLatency  *prometheus.HistogramVec

	// Validation metrics
	ValidationIssues *prometheus.CounterVec
	ConfidenceScore  *prometheus.HistogramVec

	// Admission metrics
	AdmissionDecisions *prometheus.CounterVec

	// Dispatch queue metrics
	QueuePublished    *prometheus.CounterVec
	QueueConsumed     *prometheus.CounterVec
	QueueDeadLettered *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerCalls       *prometheus.CounterVec

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TranslationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "translation",
				Name:      "requests_total",
				Help:      "Total number of translation requests",
			},
			[]string{"source_format", "target_format", "status"},
		),

		TranslationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulebridge",
				Subsystem: "translation",
				Name:      "latency_seconds",
				Help:      "Translation request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source_format", "target_format"},
		),

		ValidationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "validation",
				Name:      "issues_total",
				Help:      "Total number of validation issues by stage and severity",
			},
			[]string{"stage", "severity"},
		),

		ConfidenceScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulebridge",
				Subsystem: "validation",
				Name:      "confidence_score",
				Help:      "Distribution of validation confidence scores",
				Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.85, 0.95, 1.0},
			},
			[]string{"target_format"},
		),

		AdmissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"class", "decision"},
		),

		QueuePublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "queue",
				Name:      "published_total",
				Help:      "Total number of messages published per queue",
			},
			[]string{"queue"},
		),

		QueueConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "queue",
				Name:      "consumed_total",
				Help:      "Total number of messages consumed per queue",
			},
			[]string{"queue", "status"},
		),

		QueueDeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "queue",
				Name:      "dead_lettered_total",
				Help:      "Total number of messages routed to the dead-letter queue",
			},
			[]string{"queue", "reason"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rulebridge",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),

		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "breaker",
				Name:      "transitions_total",
				Help:      "Total circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to", "cause"},
		),

		BreakerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulebridge",
				Subsystem: "breaker",
				Name:      "calls_total",
				Help:      "Total calls through circuit breakers by outcome",
			},
			[]string{"dependency", "outcome"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rulebridge",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordTranslation increments the translation request counter
func (c *Metrics) RecordTranslation(source, target, status string) {
	c.TranslationRequests.WithLabelValues(source, target, status).Inc()
}

// RecordTranslationLatency records translation duration
func (c *Metrics) RecordTranslationLatency(source, target string, duration time.Duration) {
	c.TranslationLatency.WithLabelValues(source, target).Observe(duration.Seconds())
}

// RecordValidationIssue increments the validation issue counter
func (c *Metrics) RecordValidationIssue(stage, severity string) {
	c.ValidationIssues.WithLabelValues(stage, severity).Inc()
}

// RecordConfidence records a confidence score observation
func (c *Metrics) RecordConfidence(targetFormat string, score float64) {
	c.ConfidenceScore.WithLabelValues(targetFormat).Observe(score)
}

// RecordAdmission increments the admission decision counter
func (c *Metrics) RecordAdmission(class, decision string) {
	c.AdmissionDecisions.WithLabelValues(class, decision).Inc()
}

// RecordPublished increments the published message counter
func (c *Metrics) RecordPublished(queue string) {
	c.QueuePublished.WithLabelValues(queue).Inc()
}

// RecordConsumed increments the consumed message counter
func (c *Metrics) RecordConsumed(queue, status string) {
	c.QueueConsumed.WithLabelValues(queue, status).Inc()
}

// RecordDeadLettered increments the dead-letter counter
func (c *Metrics) RecordDeadLettered(queue, reason string) {
	c.QueueDeadLettered.WithLabelValues(queue, reason).Inc()
}

// RecordBreakerState updates the breaker state gauge
func (c *Metrics) RecordBreakerState(dependency string, state int) {
	c.BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordBreakerTransition increments the transition counter
func (c *Metrics) RecordBreakerTransition(dependency, from, to, cause string) {
	c.BreakerTransitions.WithLabelValues(dependency, from, to, cause).Inc()
}

// RecordBreakerCall increments the call outcome counter
func (c *Metrics) RecordBreakerCall(dependency, outcome string) {
	c.BreakerCalls.WithLabelValues(dependency, outcome).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}
