package observability

import (
	"context"
	"time"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records workflow events as Prometheus series.
type Metrics struct {
	events         *prometheus.CounterVec
	sessions       prometheus.Counter
	commits        *prometheus.CounterVec
	attempts       prometheus.Histogram
	compensations  *prometheus.CounterVec
	commitDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "productflow_events_total",
				Help: "Total number of workflow events by type",
			},
			[]string{"type"},
		),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "productflow_sessions_created_total",
			Help: "Total number of onboarding sessions created",
		}),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "productflow_commits_total",
				Help: "Total number of finished commits by result",
			},
			[]string{"result"},
		),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "productflow_commit_attempts",
			Help:    "Number of record store attempts used by a commit",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "productflow_compensations_total",
				Help: "Total number of orphan compensations by outcome",
			},
			[]string{"outcome"},
		),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "productflow_commit_duration_seconds",
			Help:    "Duration of commits including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.events, m.sessions, m.commits, m.attempts, m.compensations, m.commitDuration)
	}
	return m
}

// Publish implements ports.Notifier.
func (m *Metrics) Publish(ctx context.Context, e domain.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case domain.EventSessionCreated:
		m.sessions.Inc()
	case domain.EventCommitSucceeded, domain.EventCommitFailed:
		result := "success"
		if e.Type == domain.EventCommitFailed {
			result = "failure"
		}
		m.commits.WithLabelValues(result).Inc()
		if n, ok := e.Attributes["attempts"].(int); ok {
			m.attempts.Observe(float64(n))
		}
		if d, ok := e.Attributes["duration"].(time.Duration); ok {
			m.commitDuration.Observe(d.Seconds())
		}
	case domain.EventCompensation:
		outcome := "deleted"
		if failed, _ := e.Attributes["failed"].(bool); failed {
			outcome = "failed"
		}
		m.compensations.WithLabelValues(outcome).Inc()
	}
}
