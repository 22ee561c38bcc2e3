// Package stats records bridge telemetry in Prometheus collectors.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counts synthesized characters and request outcomes.
// All methods are safe for concurrent use.
type Prometheus struct {
	characters      prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(namespace string, reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		characters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesized_characters_total",
			Help:      "Characters submitted for speech synthesis",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Speech requests by operation and outcome",
		}, []string{"op", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_request_duration_seconds",
			Help:      "Speech request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"}),
	}
}

func (p *Prometheus) AddCharacters(n int) {
	if n > 0 {
		p.characters.Add(float64(n))
	}
}

func (p *Prometheus) ObserveRequest(op, outcome string, d time.Duration) {
	p.requestsTotal.WithLabelValues(op, outcome).Inc()
	p.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) AddCharacters(int)                            {}
func (Nop) ObserveRequest(string, string, time.Duration) {}
