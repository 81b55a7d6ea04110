package broadcast

import (
	"context"

	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/metrics"
)

// service answers peers' rounds. Only a member's predecessor on the stated ring may
// open or close a round with it.
type service struct{ b *Broadcaster }

func (s *service) Gossip(_ context.Context, from member.ID, req message.Gossip) message.Reconcile {
	if !s.authorized("gossip", from, req.Ring) {
		return message.Reconcile{}
	}
	return message.Reconcile{
		Updates: s.b.buffer.Reconcile(req.Digests),
		Digests: s.b.buffer.ForReconciliation(),
	}
}

func (s *service) Update(_ context.Context, from member.ID, req message.Update) {
	if !s.authorized("update", from, req.Ring) {
		return
	}
	s.b.deliver(s.b.buffer.Receive(req.Updates))
}

func (s *service) authorized(op string, from member.ID, ring int) bool {
	b := s.b
	if !b.started.Load() {
		return false
	}
	if ring < 0 || ring >= b.View.RingCount() {
		b.L.Infow("rejecting request on unknown ring", "op", op, "from", from.Short(), "ring", ring)
		metrics.Unauthorized(op)
		return false
	}
	pred, ok := b.View.Predecessor(ring, b.Self.ID)
	if !ok || pred.ID != from {
		b.L.Infow("rejecting request from non-predecessor", "op", op, "from", from.Short(), "ring", ring)
		metrics.Unauthorized(op)
		return false
	}
	return true
}
