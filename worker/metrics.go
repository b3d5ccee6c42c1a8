package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

// outcomeOK labels a request that produced a success response. Failures are
// labelled with their error kind.
const outcomeOK = "ok"

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	loaded   prometheus.Gauge
}

// newMetrics builds the worker collectors. A nil registerer leaves them
// unregistered. outstanding reports native bytes held by the current request.
func newMetrics(reg prometheus.Registerer, outstanding func() float64) *metrics {
	factory := promauto.With(reg)

	m := &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ffbridge",
				Name:      "requests_total",
				Help:      "Requests handled, by message type and outcome",
			},
			[]string{"type", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ffbridge",
				Name:      "request_duration_seconds",
				Help:      "Handler latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"type"},
		),
		loaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ffbridge",
				Name:      "engine_loaded",
				Help:      "1 once the engine has been instantiated",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "ffbridge",
			Name:      "marshal_outstanding_bytes",
			Help:      "Native bytes held by in-flight marshaling operations",
		},
		outstanding,
	)

	return m
}

func (m *metrics) observe(t protocol.MessageType, err error, elapsed time.Duration) {
	outcome := outcomeOK
	if err != nil {
		outcome = string(fferrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.requests.WithLabelValues(t.String(), outcome).Inc()
	m.duration.WithLabelValues(t.String()).Observe(elapsed.Seconds())
}
