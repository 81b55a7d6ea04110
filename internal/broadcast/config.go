package broadcast

import (
	"time"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/buffer"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Config struct {
	buffer.Parameters
	// Interval is the period between two gossip rounds.
	Interval time.Duration
	// RequestTimeout bounds each request of a round. Defaults to Interval.
	RequestTimeout time.Duration
	// View is the membership the broadcaster gossips over. Its ID names the
	// broadcast context on the transport.
	View *member.View
	// Self is the local member. It must belong to View.
	Self member.Member
	// Signer signs published messages. Required by the default adapter.
	Signer    signing.Signer
	Transport transport.Transport
	// Adapter defaults to a signed adapter resolving sources through View.
	Adapter adapter.Adapter
	// SweepOnStart runs a catch-up sweep over every ring right after the first
	// jitter delay.
	SweepOnStart bool
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	cfg.Parameters = cfg.Parameters.Merge(def.Parameters)
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = cfg.Interval
	}
	if cfg.Adapter == nil && cfg.View != nil {
		cfg.Adapter = adapter.NewSigned(cfg.View, cfg.DigestAlgorithm)
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if err := cfg.Parameters.Validate(); err != nil {
		return err
	}
	if cfg.Interval <= 0 {
		return errors.Newf("[broadcast] - interval must be positive, got %s", cfg.Interval)
	}
	if cfg.View == nil {
		return errors.New("[broadcast] - view required")
	}
	if cfg.Transport == nil {
		return errors.New("[broadcast] - transport required")
	}
	if _, ok := cfg.View.Get(cfg.Self.ID); !ok {
		return errors.Newf("[broadcast] - self %s is not a member of the view", cfg.Self.ID.Short())
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Parameters: buffer.DefaultParameters(),
		Interval:   1 * time.Second,
		Clock:      clockwork.NewRealClock(),
		Logger:     zap.NewNop(),
	}
}
