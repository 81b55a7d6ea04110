// Package transport defines how broadcasters reach each other. Implementations live
// in internal/transport/mock and transport/grpc.
package transport

import (
	"context"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnavailable is returned when the peer has no service registered for the
	// requested broadcast context.
	ErrUnavailable = errors.New("[transport] - service unavailable")
	// ErrUnreachable is returned when the peer cannot be contacted.
	ErrUnreachable = errors.New("[transport] - peer unreachable")
)

// Link is an open connection to one peer within one broadcast context.
type Link interface {
	Member() member.Member
	// Gossip opens a round with the peer.
	Gossip(ctx context.Context, req message.Gossip) (message.Reconcile, error)
	// Update closes a round with the peer.
	Update(ctx context.Context, req message.Update) error
	// Close releases the link. The underlying connection may be reused.
	Close() error
}

// Service answers the requests of a broadcast context. from is the caller's member
// ID as established by the transport.
type Service interface {
	Gossip(ctx context.Context, from member.ID, req message.Gossip) message.Reconcile
	Update(ctx context.Context, from member.ID, req message.Update)
}

// Transport connects a local member to its peers. A single Transport serves any
// number of broadcast contexts, each identified by a digest.
type Transport interface {
	Connect(id digest.Digest, to member.Member) (Link, error)
	Register(id digest.Digest, svc Service)
	Deregister(id digest.Digest)
}
