package member

import (
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	// Rings is the number of independent rings the view maintains. A view with
	// 2t+1 rings tolerates t faulty members on any member's neighborhood.
	Rings int
	// Algorithm positions members on the rings.
	Algorithm digest.Algorithm
	Logger    *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Rings == 0 {
		cfg.Rings = def.Rings
	}
	if cfg.Algorithm == 0 {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Rings < 1 {
		return errors.Newf("[member] - rings must be positive, got %d", cfg.Rings)
	}
	if !cfg.Algorithm.Valid() {
		return errors.Newf("[member] - invalid digest algorithm %s", cfg.Algorithm)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Rings:     3,
		Algorithm: digest.Default,
		Logger:    zap.NewNop(),
	}
}
