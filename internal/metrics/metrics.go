// Package metrics exposes the prometheus collectors recorded by the broadcast engine.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the namespace every collector is registered under.
const Namespace = "rbc"

func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

const (
	subsystemBuffer    = "buffer"
	subsystemBroadcast = "broadcast"
	subsystemTransport = "transport"
)

// Reasons a received message is not delivered.
const (
	RejectTooOld     = "too_old"
	RejectNegative   = "negative_age"
	RejectDuplicate  = "duplicate"
	RejectDelivered  = "delivered"
	RejectUnverified = "unverified"
)

// Reasons a buffered message is evicted.
const (
	EvictAged     = "aged"
	EvictOverflow = "overflow"
)

// Round outcomes.
const (
	RoundOK      = "ok"
	RoundSkipped = "skipped"
	RoundFailed  = "failed"
)

var (
	delivered = NewCounter("delivered_total", subsystemBuffer, "Messages delivered to the application.", []string{})
	rejected  = NewCounter("rejected_total", subsystemBuffer, "Received messages that were not delivered.", []string{"reason"})
	evicted   = NewCounter("evicted_total", subsystemBuffer, "Messages evicted from the gossip buffer.", []string{"reason"})
	buffered  = NewGauge("messages", subsystemBuffer, "Messages currently held across all gossip buffers.", []string{})

	rounds        = NewCounter("rounds_total", subsystemBroadcast, "Gossip rounds by outcome.", []string{"outcome"})
	roundDuration = NewHistogramWithBuckets(
		"round_duration_seconds",
		subsystemBroadcast,
		"Duration of a gossip round.",
		[]string{},
		prometheus.ExponentialBuckets(0.0005, 2, 14),
	)
	unauthorized = NewCounter("unauthorized_total", subsystemBroadcast, "Requests rejected because the caller is not the ring predecessor.", []string{"op"})

	transportBytes = NewCounter("bytes_total", subsystemTransport, "Encoded bytes by operation and direction.", []string{"op", "direction"})
)

func Delivered(n int) { delivered.WithLabelValues().Add(float64(n)) }

func Rejected(reason string) { rejected.WithLabelValues(reason).Inc() }

// Evicted records n evictions and shrinks the buffered gauge accordingly.
func Evicted(reason string, n int) {
	evicted.WithLabelValues(reason).Add(float64(n))
	buffered.WithLabelValues().Sub(float64(n))
}

// Buffered adjusts the buffered gauge by delta.
func Buffered(delta int) { buffered.WithLabelValues().Add(float64(delta)) }

func Round(outcome string, d time.Duration) {
	rounds.WithLabelValues(outcome).Inc()
	roundDuration.WithLabelValues().Observe(d.Seconds())
}

func Unauthorized(op string) { unauthorized.WithLabelValues(op).Inc() }

func TransportBytes(op, direction string, n int) {
	transportBytes.WithLabelValues(op, direction).Add(float64(n))
}

// Register exposes every collector on reg in addition to the default registry.
// Collectors reg already holds are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		delivered, rejected, evicted, buffered, rounds, roundDuration, unauthorized, transportBytes,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return errors.Wrap(err, "[metrics] - failed to register collector")
			}
		}
	}
	return nil
}
