// Package buffer implements the gossip buffer: the set of messages a member is
// currently spreading, how they age out, and how they are reconciled against a
// peer's digest.
package buffer

import (
	"bytes"
	"sort"
	"sync/atomic"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/bloom"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/metrics"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/arya-analytics/rbc/internal/window"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Buffer holds aged messages keyed by hash. It is safe for concurrent use by a local
// publisher, inbound request handlers, and the round loop.
type Buffer struct {
	Config
	L             *zap.SugaredLogger
	state         *state
	delivered     *window.Window
	highWaterMark int
	round         atomic.Int64
	seq           atomic.Uint64
	tickGate      *semaphore.Weighted
	gcGate        *semaphore.Weighted
}

func New(cfg Config) (*Buffer, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		Config:        cfg,
		L:             cfg.Logger.Sugar(),
		state:         newState(),
		delivered:     window.New(cfg.DeliveredCacheSize, window.DefaultEpochs),
		highWaterMark: cfg.HighWaterMark(),
		tickGate:      semaphore.NewWeighted(1),
		gcGate:        semaphore.NewWeighted(1),
	}, nil
}

// |||||| SEND ||||||

// Send wraps content, buffers it at age zero, and returns the buffered message. The
// message's hash is recorded as delivered so it is never handed back to the sender.
func (b *Buffer) Send(signer signing.Signer, content []byte) (message.AgedMessage, error) {
	payload, err := b.Adapter.Wrap(signer, content)
	if err != nil {
		return message.AgedMessage{}, err
	}
	e := b.newEntry(b.Adapter.Hash(payload), payload, 0)
	if b.state.put(e) {
		metrics.Buffered(1)
	}
	b.delivered.Add(e.hash)
	b.gc()
	return e.message(), nil
}

// |||||| RECEIVE ||||||

// Receive merges a batch of messages from a peer and returns the ones that are new
// to this member. At most MaxMessages entries of the batch are considered.
func (b *Buffer) Receive(batch []message.AgedMessage) []adapter.Msg {
	if len(batch) > b.MaxMessages {
		batch = batch[:b.MaxMessages]
	}
	var out []adapter.Msg
	for _, in := range batch {
		hash := b.Adapter.Hash(in.Payload)
		if in.Age < 0 {
			metrics.Rejected(metrics.RejectNegative)
			continue
		}
		if in.Age > b.MaxAge {
			metrics.Rejected(metrics.RejectTooOld)
			continue
		}
		if b.dup(hash, in.Age) {
			metrics.Rejected(metrics.RejectDuplicate)
			continue
		}
		if b.delivered.Contains(hash) {
			metrics.Rejected(metrics.RejectDelivered)
			continue
		}
		if !b.Adapter.Verify(in.Payload) {
			metrics.Rejected(metrics.RejectUnverified)
			b.L.Debugw("dropping unverified message", "hash", hash.Short())
			continue
		}
		e := b.newEntry(hash, bytes.Clone(in.Payload), in.Age)
		if cur, loaded := b.state.putIfAbsent(e); loaded {
			cur.merge(in.Age)
			metrics.Rejected(metrics.RejectDuplicate)
			continue
		}
		metrics.Buffered(1)
		if !b.delivered.Add(hash) {
			continue
		}
		aged := e.message()
		out = append(out, adapter.Msg{
			Source:  b.Adapter.Source(aged.Payload),
			Content: b.Adapter.Unwrap(aged),
			Hash:    hash,
		})
	}
	b.gc()
	metrics.Delivered(len(out))
	return out
}

// dup merges the incoming age into an existing entry and reports whether the hash
// was already buffered. An entry whose merged age passes MaxAge is evicted.
func (b *Buffer) dup(hash digest.Digest, age int) bool {
	e, ok := b.state.get(hash)
	if !ok {
		return false
	}
	if e.merge(age) > b.MaxAge && b.state.removeIf(e) {
		metrics.Evicted(metrics.EvictAged, 1)
	}
	return true
}

// |||||| RECONCILE ||||||

// Reconcile returns the buffered messages the peer's digest does not contain and that
// are still young enough to spread, youngest first, capped at MaxMessages.
func (b *Buffer) Reconcile(peer *bloom.Filter) []message.AgedMessage {
	type candidate struct {
		msg message.AgedMessage
		seq uint64
	}
	var candidates []candidate
	for _, e := range b.state.snapshot() {
		m := e.message()
		if m.Age >= b.MaxAge || peer.Contains(m.Hash) {
			continue
		}
		candidates = append(candidates, candidate{msg: m, seq: e.seq})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].msg.Age != candidates[j].msg.Age {
			return candidates[i].msg.Age < candidates[j].msg.Age
		}
		return candidates[i].seq > candidates[j].seq
	})
	if len(candidates) > b.MaxMessages {
		candidates = candidates[:b.MaxMessages]
	}
	out := make([]message.AgedMessage, len(candidates))
	for i, c := range candidates {
		out[i] = c.msg
	}
	return out
}

// ForReconciliation builds a freshly salted digest of every buffered hash.
func (b *Buffer) ForReconciliation() *bloom.Filter {
	f := bloom.New(b.BufferSize, b.FalsePositiveRate)
	for _, e := range b.state.snapshot() {
		f.Add(e.hash)
	}
	return f
}

// |||||| AGING ||||||

// Tick advances the round and ages every buffered message by one. If another tick is
// already running the call returns without aging anything; the next tick catches up.
func (b *Buffer) Tick() {
	b.round.Add(1)
	if !b.tickGate.TryAcquire(1) {
		return
	}
	defer b.tickGate.Release(1)
	if n := b.state.age(b.MaxAge); n > 0 {
		metrics.Evicted(metrics.EvictAged, n)
	}
}

// gc evicts messages once the buffer reaches its high water mark, oldest first.
// Messages past MaxAge are always evicted; younger ones only while the buffer
// exceeds BufferSize, until it drops below the high water mark. Tick and dup already
// evict messages past MaxAge, so in practice only overflow evicts here.
// Only one collection runs at a time; concurrent requests are dropped.
func (b *Buffer) gc() {
	if b.state.len() < b.highWaterMark {
		return
	}
	if !b.gcGate.TryAcquire(1) {
		return
	}
	defer b.gcGate.Release(1)
	type candidate struct {
		e   *entry
		age int
	}
	snap := b.state.snapshot()
	entries := make([]candidate, len(snap))
	for i, e := range snap {
		entries[i] = candidate{e: e, age: int(e.age.Load())}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].age != entries[j].age {
			return entries[i].age > entries[j].age
		}
		return entries[i].e.seq < entries[j].e.seq
	})
	overflowing := b.state.len() > b.BufferSize
	var aged, overflow int
	for _, c := range entries {
		if b.state.len() < b.highWaterMark || (c.age <= b.MaxAge && !overflowing) {
			break
		}
		if !b.state.removeIf(c.e) {
			continue
		}
		if c.age > b.MaxAge {
			aged++
		} else {
			overflow++
		}
	}
	if aged > 0 {
		metrics.Evicted(metrics.EvictAged, aged)
	}
	if overflow > 0 {
		metrics.Evicted(metrics.EvictOverflow, overflow)
		b.L.Warnw("gossip buffer overflow", "evicted", overflow, "size", b.state.len(), "bufferSize", b.BufferSize)
	}
}

// |||||| ACCESSORS ||||||

func (b *Buffer) Get(hash digest.Digest) (message.AgedMessage, bool) {
	e, ok := b.state.get(hash)
	if !ok {
		return message.AgedMessage{}, false
	}
	return e.message(), true
}

// Delivered reports whether hash has recently been delivered or sent by this member.
func (b *Buffer) Delivered(hash digest.Digest) bool { return b.delivered.Contains(hash) }

func (b *Buffer) Round() int { return int(b.round.Load()) }

func (b *Buffer) Size() int { return b.state.len() }

// Clear drops every buffered message. The delivered window is kept so messages
// already handed to the application are not delivered again.
func (b *Buffer) Clear() {
	if n := b.state.clear(); n > 0 {
		metrics.Buffered(-n)
	}
}

func (b *Buffer) newEntry(hash digest.Digest, payload []byte, age int) *entry {
	e := &entry{hash: hash, payload: payload, seq: b.seq.Add(1)}
	e.age.Store(int64(age))
	return e
}
