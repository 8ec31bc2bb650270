// Package metrics provides Prometheus-based recording of conversation
// activity, plus a query service for aggregating it back out of a
// Prometheus server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the conversation-side metrics contract. The turn controller
// records through this interface so tests can pass a no-op.
type Recorder interface {
	ObserveTurn(stage string, outcome string, duration time.Duration)
	IncTransition(from, to, reason string)
	IncProblem(kind string)
	ObserveNLPRequest(provider string, success bool, duration time.Duration)
}

// PrometheusRecorder implements Recorder with promauto collectors on the
// default registry.
type PrometheusRecorder struct {
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
	problemsTotal    *prometheus.CounterVec
	nlpTotal         *prometheus.CounterVec
	nlpDuration      *prometheus.HistogramVec
}

// NewPrometheusRecorder registers and returns the conversation collectors.
// Call at most once per process; promauto panics on duplicate registration.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		turnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_turns_total",
				Help: "Total number of processed turns by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		turnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_turn_duration_seconds",
				Help:    "End-to-end duration of one turn in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stage_transitions_total",
				Help: "Total number of committed stage transitions",
			},
			[]string{"from", "to", "reason"},
		),
		problemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_problem_events_total",
				Help: "Total number of detected conversation problems by kind",
			},
			[]string{"kind"},
		),
		nlpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_nlp_requests_total",
				Help: "Total number of NLP resolver calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		nlpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_nlp_request_duration_seconds",
				Help:    "Duration of NLP resolver calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// ObserveTurn records one completed turn.
func (p *PrometheusRecorder) ObserveTurn(stage, outcome string, duration time.Duration) {
	p.turnsTotal.WithLabelValues(stage, outcome).Inc()
	p.turnDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncTransition records one committed stage transition.
func (p *PrometheusRecorder) IncTransition(from, to, reason string) {
	p.transitionsTotal.WithLabelValues(from, to, reason).Inc()
}

// IncProblem records one detected conversation problem.
func (p *PrometheusRecorder) IncProblem(kind string) {
	p.problemsTotal.WithLabelValues(kind).Inc()
}

// ObserveNLPRequest records one resolver call.
func (p *PrometheusRecorder) ObserveNLPRequest(provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.nlpTotal.WithLabelValues(provider, status).Inc()
	p.nlpDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// NopRecorder discards everything. Used in tests and when metrics are off.
type NopRecorder struct{}

func (NopRecorder) ObserveTurn(string, string, time.Duration)     {}
func (NopRecorder) IncTransition(string, string, string)          {}
func (NopRecorder) IncProblem(string)                             {}
func (NopRecorder) ObserveNLPRequest(string, bool, time.Duration) {}
