// Package monitor exposes execution metrics and turns alert events into
// operator notifications.
//
// Prometheus series (served at /metrics):
//   - execution_stack_ops_total{stack,op,result}
//   - execution_fills_total{tier}
//   - execution_venue_calls_total{call,result}
//   - execution_venue_latency_seconds{call}
//   - execution_pacing_waits_total / execution_pacing_wait_seconds
//   - execution_client_ids_held
package monitor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxStackOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_stack_ops_total",
			Help: "Order stack operations by outcome",
		},
		[]string{"stack", "op", "result"},
	)

	mtxFills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_fills_total",
			Help: "Fill updates applied per tier",
		},
		[]string{"tier"},
	)

	mtxVenueCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_venue_calls_total",
			Help: "Venue calls by outcome (ok, timeout, rejected, error)",
		},
		[]string{"call", "result"},
	)

	mtxVenueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_venue_latency_seconds",
			Help:    "Venue call latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"call"},
	)

	mtxPacingWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execution_pacing_waits_total",
			Help: "Calls that had to wait for the pacing budget",
		},
	)

	mtxPacingWaitSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execution_pacing_wait_seconds",
			Help: "Total time spent waiting for the pacing budget",
		},
	)

	mtxClientIDs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execution_client_ids_held",
			Help: "Venue client IDs held by this process",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxStackOps,
		mtxFills,
		mtxVenueCalls,
		mtxVenueLatency,
		mtxPacingWaits,
		mtxPacingWaitSeconds,
		mtxClientIDs,
	)
}

// ObserveStackOp counts one stack operation. Recoverable stack signals are
// labelled by the caller through classify.
func ObserveStackOp(stack, op string, err error, classify func(error) string) {
	result := "ok"
	if err != nil {
		result = "error"
		if classify != nil {
			result = classify(err)
		}
	}
	mtxStackOps.WithLabelValues(stack, op, result).Inc()
}

// ObserveFill counts a fill applied at tier.
func ObserveFill(tier string) {
	mtxFills.WithLabelValues(tier).Inc()
}

// ObserveVenueCall records latency and outcome of a venue call.
func ObserveVenueCall(call string, started time.Time, result string) {
	mtxVenueCalls.WithLabelValues(call, result).Inc()
	mtxVenueLatency.WithLabelValues(call).Observe(time.Since(started).Seconds())
	Default.VenueLatency.RecordDuration(time.Since(started))
	if result != "ok" {
		Default.IncrementVenueErrors()
	}
}

// ObservePacingWait records one wait for the pacing budget.
func ObservePacingWait(d time.Duration) {
	mtxPacingWaits.Inc()
	mtxPacingWaitSeconds.Add(d.Seconds())
}

// SetClientIDsHeld reports the number of identities this process holds.
func SetClientIDsHeld(n int) {
	mtxClientIDs.Set(float64(n))
}

// ResultOf maps an error to a short metric label using the given sentinels.
func ResultOf(err error, labels map[error]string) string {
	if err == nil {
		return "ok"
	}
	for target, label := range labels {
		if errors.Is(err, target) {
			return label
		}
	}
	return "error"
}
