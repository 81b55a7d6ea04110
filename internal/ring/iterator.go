package ring

import (
	"context"
	"time"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrNoLink is passed to a Handler for destinations that could not be reached.
var ErrNoLink = errors.New("[ring] - no link to destination")

// Round runs one exchange with a destination.
type Round[T any] func(ctx context.Context, link transport.Link, ring int) (T, error)

// Handler folds the outcome of a round into tally and reports whether to keep going.
// The destination's link stays open until the handler returns.
type Handler[T any] func(tally *int, res T, err error, dest Destination) bool

type IteratorConfig struct {
	// Frequency is the delay between two rounds.
	Frequency time.Duration
	Clock     clockwork.Clock
	// OnMajority fires once when the tally first reaches the view's majority.
	OnMajority func(tally int)
	// OnFailure fires once when a pass completes short of a majority.
	OnFailure func(tally int)
	// OnComplete fires when a pass completes.
	OnComplete func(tally int)
	Logger     *zap.Logger
}

func (cfg IteratorConfig) Merge(def IteratorConfig) IteratorConfig {
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.OnMajority == nil {
		cfg.OnMajority = def.OnMajority
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = def.OnFailure
	}
	if cfg.OnComplete == nil {
		cfg.OnComplete = def.OnComplete
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultIteratorConfig() IteratorConfig {
	return IteratorConfig{
		Clock:      clockwork.NewRealClock(),
		OnMajority: func(int) {},
		OnFailure:  func(int) {},
		OnComplete: func(int) {},
		Logger:     zap.NewNop(),
	}
}

// Iterator runs a round against every ring of one traversal, one ring at a time,
// tracking a tally against the view's majority.
type Iterator[T any] struct {
	IteratorConfig
	selector  *Selector
	tally     int
	succeeded bool
	failed    bool
}

func NewIterator[T any](selector *Selector, cfg IteratorConfig) *Iterator[T] {
	return &Iterator[T]{IteratorConfig: cfg.Merge(DefaultIteratorConfig()), selector: selector}
}

// Iterate drives rounds around d until the handler returns false or every ring of
// the traversal has been visited. It returns the final tally.
func (it *Iterator[T]) Iterate(ctx context.Context, d digest.Digest, round Round[T], handler Handler[T]) (int, error) {
	for {
		if it.selector.Iteration() == it.selector.View.RingCount()-1 {
			it.proceed(true, true)
			return it.tally, nil
		}
		dest := it.selector.Next(d)
		var (
			res T
			err = ErrNoLink
		)
		if dest.Link != nil {
			res, err = round(ctx, dest.Link, dest.Ring)
		}
		allow := handler(&it.tally, res, err, dest)
		if dest.Link != nil {
			if cerr := dest.Link.Close(); cerr != nil {
				it.Logger.Debug("failed to close link", zap.Error(cerr))
			}
		}
		it.proceed(allow, false)
		if !allow {
			return it.tally, nil
		}
		if it.Frequency > 0 {
			select {
			case <-ctx.Done():
				return it.tally, ctx.Err()
			case <-it.Clock.After(it.Frequency):
			}
		} else if ctx.Err() != nil {
			return it.tally, ctx.Err()
		}
	}
}

func (it *Iterator[T]) proceed(allow, final bool) {
	majority := it.selector.View.Majority()
	if final {
		if it.tally < majority && !it.failed {
			it.failed = true
			it.OnFailure(it.tally)
		}
		it.OnComplete(it.tally)
		return
	}
	if !allow {
		return
	}
	if it.tally >= majority && !it.succeeded {
		it.succeeded = true
		it.OnMajority(it.tally)
	}
}
