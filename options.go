package rbc

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	// logger is handed to every component of the broadcaster.
	logger *zap.Logger
	// interval is the period between two gossip rounds.
	interval time.Duration
	// requestTimeout bounds each request of a round. Defaults to interval.
	requestTimeout time.Duration
	// params sizes the gossip buffer and its digests.
	params Parameters
	// adapter wraps and verifies payloads. Defaults to a signed adapter that
	// resolves sources through the view.
	adapter Adapter
	// clock schedules rounds.
	clock clockwork.Clock
	// registerer receives the broadcast collectors in addition to the default
	// prometheus registry.
	registerer prometheus.Registerer
	listener   RoundListener
	// sweepOnStart runs a catch-up sweep over every ring once the broadcaster has
	// started.
	sweepOnStart bool
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func (o *options) fields() []zap.Field {
	return []zap.Field{
		zap.Duration("interval", o.interval),
		zap.Duration("requestTimeout", o.requestTimeout),
		zap.Int("bufferSize", o.params.BufferSize),
		zap.Int("maxMessages", o.params.MaxMessages),
		zap.Float64("falsePositiveRate", o.params.FalsePositiveRate),
		zap.Bool("sweepOnStart", o.sweepOnStart),
	}
}

func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

func WithInterval(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) { o.requestTimeout = timeout }
}

// WithParameters overrides buffer parameters. Zero fields keep their defaults.
func WithParameters(params Parameters) Option { return func(o *options) { o.params = params } }

func WithAdapter(adapter Adapter) Option { return func(o *options) { o.adapter = adapter } }

func WithClock(clock clockwork.Clock) Option { return func(o *options) { o.clock = clock } }

// WithMetrics registers the broadcast collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option { return func(o *options) { o.registerer = reg } }

func WithRoundListener(l RoundListener) Option { return func(o *options) { o.listener = l } }

func SweepOnStart() Option { return func(o *options) { o.sweepOnStart = true } }
