// Package metrics exports the subscriber's and beacon's per-tick counters
// to Prometheus and, for the subscriber, mirrors the spec's statsd-shaped
// counter names in a one-line log summary each tick.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// SubscriberTickCounts is one tick window's worth of per-actor counters,
// reset to zero by the caller immediately after EmitTick returns.
type SubscriberTickCounts struct {
	Messages        uint64
	MetaFailures    uint64
	MessagesDevZero uint64
	GapTotal        uint64
	Drops           uint64
	Blocks          uint64
}

// SubscriberSink holds the Prometheus counters for one subscriber actor.
// Each actor owns its own sink so the "actor" label distinguishes them in
// scraped output without any shared mutable state between goroutines.
type SubscriberSink struct {
	actorID string
	logger  zerolog.Logger

	received *prometheus.CounterVec
	missed   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	blocked  *prometheus.CounterVec
	devZero  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// registerCounterVec registers vec with reg, or, if a CounterVec by the
// same name is already registered (the common case when several actors
// share one registry), returns the already-registered instance instead.
// Every actor's counters then live in one vector distinguished by the
// "actor" label, rather than colliding as duplicate metric descriptors.
func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return vec
}

// NewSubscriberSink registers (idempotently, via the shared registerer) the
// subscriber counter family and returns a sink scoped to one actor id.
func NewSubscriberSink(reg prometheus.Registerer, actorID string, logger zerolog.Logger) *SubscriberSink {
	return &SubscriberSink{
		actorID: actorID,
		logger:  logger,
		received: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_messages_received_count",
			Help: "Messages received by a subscriber actor, per tick window.",
		}, []string{"actor"})),
		missed: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_messages_missed_count",
			Help: "Sequence gap contribution observed by a subscriber actor, per tick window.",
		}, []string{"actor"})),
		dropped: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_messages_dropped_count",
			Help: "Messages dropped after a push send timeout, per tick window.",
		}, []string{"actor"})),
		blocked: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_messages_blocked_count",
			Help: "Messages observed with the downstream push socket not writable, per tick window.",
		}, []string{"actor"})),
		devZero: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_messages_dev_zero_count",
			Help: "Messages observed with device_number == 0, per tick window.",
		}, []string{"actor"})),
		failures: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_meta_failures_count",
			Help: "Messages with an unparseable meta record, per tick window.",
		}, []string{"actor"})),
	}
}

// EmitTick pushes one tick's counts to Prometheus and logs the matching
// one-line human summary. The caller resets its own counters afterward.
//
// The exported names use "messages", not the original implementation's
// "messsages" typo.
func (s *SubscriberSink) EmitTick(c SubscriberTickCounts) {
	s.received.WithLabelValues(s.actorID).Add(float64(c.Messages))
	s.missed.WithLabelValues(s.actorID).Add(float64(c.GapTotal))
	s.dropped.WithLabelValues(s.actorID).Add(float64(c.Drops))
	s.blocked.WithLabelValues(s.actorID).Add(float64(c.Blocks))
	s.devZero.WithLabelValues(s.actorID).Add(float64(c.MessagesDevZero))
	s.failures.WithLabelValues(s.actorID).Add(float64(c.MetaFailures))

	s.logger.Info().
		Str("actor", s.actorID).
		Uint64("messages", c.Messages).
		Uint64("meta_failures", c.MetaFailures).
		Uint64("dev_zero", c.MessagesDevZero).
		Uint64("gap_total", c.GapTotal).
		Uint64("drops", c.Drops).
		Uint64("blocks", c.Blocks).
		Msg("subscriber tick summary")
}

// BeaconTickCounts is one tick window's HTTP ingress throughput summary.
type BeaconTickCounts struct {
	Messages  uint64
	Invalid   uint64
	TotalKB   float64
	PeakKB    float64
	WindowSec float64
}

// BeaconSink holds the Prometheus counters/gauges for the HTTP beacon
// ingress.
type BeaconSink struct {
	logger zerolog.Logger

	messages prometheus.Counter
	invalid  prometheus.Counter
	totalKB  prometheus.Counter
	peakKB   prometheus.Gauge
}

// NewBeaconSink registers the beacon counter family.
func NewBeaconSink(reg prometheus.Registerer, logger zerolog.Logger) *BeaconSink {
	s := &BeaconSink{
		logger: logger,
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_http_messages_total",
			Help: "Beacon requests received, including rejected ones.",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_http_invalid_total",
			Help: "Beacon requests rejected as invalid.",
		}),
		totalKB: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_http_kilobytes_total",
			Help: "Cumulative request bytes processed, in kilobytes.",
		}),
		peakKB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_http_peak_kilobytes",
			Help: "Largest single request size observed in the current window, in kilobytes.",
		}),
	}
	reg.MustRegister(s.messages, s.invalid, s.totalKB, s.peakKB)
	return s
}

// EmitTick logs the per-tick throughput summary and updates counters. The
// caller resets every count (messages, invalid, total and peak KB) for the
// next window afterward.
func (s *BeaconSink) EmitTick(c BeaconTickCounts) {
	s.messages.Add(float64(c.Messages))
	s.invalid.Add(float64(c.Invalid))
	s.totalKB.Add(c.TotalKB)
	s.peakKB.Set(c.PeakKB)

	avgKB := 0.0
	if c.Messages > 0 {
		avgKB = c.TotalKB / float64(c.Messages)
	}
	s.logger.Info().
		Uint64("messages", c.Messages).
		Uint64("invalid", c.Invalid).
		Float64("total_kb", c.TotalKB).
		Float64("avg_kb", avgKB).
		Float64("peak_kb", c.PeakKB).
		Msg("beacon ingress tick summary")
}
