// Package broadcast implements epidemic reliable broadcast. Each Broadcaster
// periodically picks a peer from its view's rings, exchanges digests with it, and
// pushes whatever the other side is missing. Messages age out of the buffer after
// one round per ring plus one; a window of delivered hashes keeps them from being
// delivered twice.
package broadcast

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/buffer"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/metrics"
	"github.com/arya-analytics/rbc/internal/ring"
	"github.com/arya-analytics/rbc/internal/transport"
	"go.uber.org/zap"
)

// Handler receives messages as they are delivered.
type Handler func(msgs []adapter.Msg)

// RoundListener is notified with the round number after every round.
type RoundListener func(round int)

type Broadcaster struct {
	Config
	L        *zap.SugaredLogger
	buffer   *buffer.Buffer
	selector *ring.Selector
	started  atomic.Bool
	// epoch changes on every Start. Rounds begun under an earlier epoch leave local
	// state alone.
	epoch atomic.Uint64

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	listener RoundListener
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config) (*Broadcaster, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	buf, err := buffer.New(buffer.Config{
		Parameters: cfg.Parameters,
		MaxAge:     cfg.View.RingCount() + 1,
		Adapter:    cfg.Adapter,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	sel, err := ring.NewSelector(ring.SelectorConfig{
		View:      cfg.View,
		Self:      cfg.Self,
		Transport: cfg.Transport,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		Config:   cfg,
		L:        cfg.Logger.Sugar(),
		buffer:   buf,
		selector: sel,
		handlers: make(map[int]Handler),
	}, nil
}

// |||||| LIFECYCLE ||||||

// Start registers the broadcaster on its transport and begins gossiping after a
// random delay of up to one interval. Starting a started broadcaster does nothing.
func (b *Broadcaster) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.epoch.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.mu.Lock()
	b.cancel, b.done = cancel, done
	b.mu.Unlock()
	b.Transport.Register(b.View.ID(), &service{b: b})
	b.L.Infow("starting broadcast", "self", b.Self.String(), "context", b.View.ID().Short(), "interval", b.Interval)
	go b.run(ctx, done)
}

// Stop halts gossip, clears the buffer and traversal state, and deregisters from the
// transport. Requests still in flight complete without touching local state, even
// if the broadcaster has been started again in the meantime. Stopping a stopped broadcaster does nothing.
func (b *Broadcaster) Stop() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	cancel()
	b.buffer.Clear()
	b.selector.Reset()
	b.Transport.Deregister(b.View.ID())
	b.L.Infow("stopped broadcast", "self", b.Self.String(), "round", b.Round())
}

// Done is closed once the round loop of the most recent Start has exited.
func (b *Broadcaster) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return b.done
}

func (b *Broadcaster) Started() bool { return b.started.Load() }

func (b *Broadcaster) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if !b.wait(ctx, time.Duration(rand.Int64N(int64(b.Interval)))) {
		return
	}
	if b.SweepOnStart {
		if _, err := b.Sweep(ctx); err != nil {
			b.L.Debugw("catch-up sweep interrupted", "error", err)
		}
	}
	for {
		b.GossipOnce(ctx)
		if !b.wait(ctx, b.Interval) {
			return
		}
	}
}

func (b *Broadcaster) wait(ctx context.Context, d time.Duration) bool {
	t := b.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

// |||||| PUBLISH ||||||

// Publish buffers content for dissemination on the following rounds. If notifyLocal
// is set the registered handlers receive the message immediately. Publishing on a
// stopped broadcaster does nothing.
func (b *Broadcaster) Publish(content []byte, notifyLocal bool) {
	if !b.started.Load() {
		b.L.Debugw("dropping publish on stopped broadcaster", "self", b.Self.String())
		return
	}
	msg, err := b.buffer.Send(b.Signer, content)
	if err != nil {
		b.L.Errorw("failed to publish", "error", err)
		return
	}
	if notifyLocal {
		b.deliver([]adapter.Msg{{
			Source:  b.Adapter.Source(msg.Payload),
			Content: b.Adapter.Unwrap(msg),
			Hash:    msg.Hash,
		}})
	}
}

// |||||| ROUNDS ||||||

// GossipOnce runs a single round with the next peer of the traversal, then ages the
// buffer and notifies the round listener whatever the outcome.
func (b *Broadcaster) GossipOnce(ctx context.Context) {
	if !b.started.Load() {
		return
	}
	epoch := b.epoch.Load()
	start := b.Clock.Now()
	outcome := b.gossip(ctx, epoch)
	if !b.current(epoch) {
		return
	}
	b.buffer.Tick()
	metrics.Round(outcome, b.Clock.Since(start))
	b.notifyRound(b.buffer.Round())
}

// current reports whether the broadcaster is running under epoch.
func (b *Broadcaster) current(epoch uint64) bool {
	return b.started.Load() && b.epoch.Load() == epoch
}

func (b *Broadcaster) notifyRound(round int) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.L.Errorw("round listener panicked", "panic", r, "round", round)
		}
	}()
	listener(round)
}

func (b *Broadcaster) gossip(ctx context.Context, epoch uint64) string {
	dest := b.selector.Next(b.Self.ID)
	if dest.Link == nil {
		return metrics.RoundSkipped
	}
	defer func() {
		if err := dest.Link.Close(); err != nil {
			b.L.Debugw("failed to close link", "error", err)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, b.RequestTimeout)
	defer cancel()
	reply, err := dest.Link.Gossip(ctx, message.Gossip{Ring: dest.Ring, Digests: b.buffer.ForReconciliation()})
	if err != nil {
		b.L.Debugw("gossip failed", "peer", dest.Member.String(), "ring", dest.Ring, "error", err)
		return metrics.RoundFailed
	}
	if err := b.reconcile(ctx, epoch, dest, reply); err != nil {
		b.L.Debugw("update failed", "peer", dest.Member.String(), "ring", dest.Ring, "error", err)
		return metrics.RoundFailed
	}
	return metrics.RoundOK
}

// reconcile merges a peer's reply and pushes back what the peer is missing.
func (b *Broadcaster) reconcile(ctx context.Context, epoch uint64, dest ring.Destination, reply message.Reconcile) error {
	if !b.current(epoch) {
		return nil
	}
	b.deliver(b.buffer.Receive(reply.Updates))
	updates := b.buffer.Reconcile(reply.Digests)
	if len(updates) == 0 {
		return nil
	}
	return dest.Link.Update(ctx, message.Update{Ring: dest.Ring, Updates: updates})
}

// Sweep runs one exchange with a peer on every ring, one ring at a time, and returns
// the number of peers that answered. It logs whether a majority of rings answered.
// Sweep does not age the buffer.
func (b *Broadcaster) Sweep(ctx context.Context) (int, error) {
	epoch := b.epoch.Load()
	sel, err := ring.NewSelector(ring.SelectorConfig{
		View:      b.View,
		Self:      b.Self,
		Transport: b.Transport,
		Logger:    b.Logger,
	})
	if err != nil {
		return 0, err
	}
	it := ring.NewIterator[message.Reconcile](sel, ring.IteratorConfig{
		Clock: b.Clock,
		OnMajority: func(tally int) {
			b.L.Infow("synchronized with a majority of rings", "tally", tally, "majority", b.View.Majority())
		},
		OnFailure: func(tally int) {
			b.L.Warnw("unable to synchronize with a majority of rings", "tally", tally, "majority", b.View.Majority())
		},
		Logger: b.Logger,
	})
	return it.Iterate(ctx, b.Self.ID,
		func(ctx context.Context, link transport.Link, r int) (message.Reconcile, error) {
			ctx, cancel := context.WithTimeout(ctx, b.RequestTimeout)
			defer cancel()
			return link.Gossip(ctx, message.Gossip{Ring: r, Digests: b.buffer.ForReconciliation()})
		},
		func(tally *int, reply message.Reconcile, err error, dest ring.Destination) bool {
			if err != nil {
				b.L.Debugw("sweep exchange failed", "ring", dest.Ring, "error", err)
				return b.current(epoch)
			}
			*tally++
			ctx, cancel := context.WithTimeout(ctx, b.RequestTimeout)
			defer cancel()
			if err := b.reconcile(ctx, epoch, dest, reply); err != nil {
				b.L.Debugw("sweep update failed", "ring", dest.Ring, "error", err)
			}
			return b.current(epoch)
		},
	)
}

// |||||| DELIVERY ||||||

// Register adds a delivery handler and returns a function that removes it.
func (b *Broadcaster) Register(h Handler) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *Broadcaster) SetRoundListener(l RoundListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *Broadcaster) deliver(msgs []adapter.Msg) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		b.safeDeliver(h, msgs)
	}
}

func (b *Broadcaster) safeDeliver(h Handler, msgs []adapter.Msg) {
	defer func() {
		if r := recover(); r != nil {
			b.L.Errorw("delivery handler panicked", "panic", r, "messages", len(msgs))
		}
	}()
	h(msgs)
}

// |||||| ACCESSORS ||||||

func (b *Broadcaster) Round() int { return b.buffer.Round() }

func (b *Broadcaster) BufferSize() int { return b.buffer.Size() }

func (b *Broadcaster) ClearBuffer() { b.buffer.Clear() }

// Buffer exposes the underlying gossip buffer.
func (b *Broadcaster) Buffer() *buffer.Buffer { return b.buffer }
