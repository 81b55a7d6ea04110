package buffer

import (
	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Parameters tune a gossip buffer. They are shared by every buffer of a broadcaster
// and never change after construction.
type Parameters struct {
	// BufferSize is the number of messages a buffer is sized for. Garbage collection
	// starts once the buffer reaches its high water mark, a tenth below BufferSize.
	BufferSize int
	// MaxMessages caps the number of messages accepted from, or sent in, one round.
	MaxMessages int
	// FalsePositiveRate is the target false positive rate of reconciliation digests.
	FalsePositiveRate float64
	// DeliveredCacheSize is the size of each epoch of the delivered window.
	DeliveredCacheSize int
	// DigestAlgorithm hashes payloads when the adapter does not decide otherwise.
	DigestAlgorithm digest.Algorithm
}

func (p Parameters) Merge(def Parameters) Parameters {
	if p.BufferSize == 0 {
		p.BufferSize = def.BufferSize
	}
	if p.MaxMessages == 0 {
		p.MaxMessages = def.MaxMessages
	}
	if p.FalsePositiveRate == 0 {
		p.FalsePositiveRate = def.FalsePositiveRate
	}
	if p.DeliveredCacheSize == 0 {
		p.DeliveredCacheSize = def.DeliveredCacheSize
	}
	if p.DigestAlgorithm == 0 {
		p.DigestAlgorithm = def.DigestAlgorithm
	}
	return p
}

func (p Parameters) Validate() error {
	if p.BufferSize < 1 {
		return errors.Newf("[buffer] - buffer size must be positive, got %d", p.BufferSize)
	}
	if p.MaxMessages < 1 {
		return errors.Newf("[buffer] - max messages must be positive, got %d", p.MaxMessages)
	}
	if p.FalsePositiveRate <= 0 || p.FalsePositiveRate >= 1 {
		return errors.Newf("[buffer] - false positive rate must be in (0, 1), got %f", p.FalsePositiveRate)
	}
	if p.DeliveredCacheSize < 1 {
		return errors.Newf("[buffer] - delivered cache size must be positive, got %d", p.DeliveredCacheSize)
	}
	if !p.DigestAlgorithm.Valid() {
		return errors.Newf("[buffer] - invalid digest algorithm %s", p.DigestAlgorithm)
	}
	return nil
}

// HighWaterMark is the size at which garbage collection kicks in.
func (p Parameters) HighWaterMark() int {
	hwm := p.BufferSize - p.BufferSize/10
	if hwm >= p.BufferSize && p.BufferSize > 1 {
		hwm = p.BufferSize - 1
	}
	return hwm
}

func DefaultParameters() Parameters {
	return Parameters{
		BufferSize:         1500,
		MaxMessages:        500,
		FalsePositiveRate:  0.00125,
		DeliveredCacheSize: 100,
		DigestAlgorithm:    digest.Default,
	}
}

type Config struct {
	Parameters
	// MaxAge is the number of rounds a message survives in the buffer. Broadcasters
	// set it to one more than the number of rings.
	MaxAge  int
	Adapter adapter.Adapter
	Logger  *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	cfg.Parameters = cfg.Parameters.Merge(def.Parameters)
	if cfg.MaxAge == 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Adapter == nil {
		cfg.Adapter = adapter.Raw{Algorithm: cfg.DigestAlgorithm}
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
	if cfg.MaxAge < 1 {
		return errors.Newf("[buffer] - max age must be positive, got %d", cfg.MaxAge)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{Parameters: DefaultParameters(), Logger: zap.NewNop()}
}
