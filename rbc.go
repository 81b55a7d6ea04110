// Package rbc is an epidemic reliable broadcast. Members of a group gossip with one
// ring neighbor per round, reconciling bloom digests of the messages they hold, until
// every live member has delivered every message.
package rbc

import (
	"context"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/address"
	"github.com/arya-analytics/rbc/internal/broadcast"
	"github.com/arya-analytics/rbc/internal/buffer"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/arya-analytics/rbc/internal/transport"
)

type (
	Address    = address.Address
	Digest     = digest.Digest
	Member     = member.Member
	MemberID   = member.ID
	View       = member.View
	Msg        = adapter.Msg
	Adapter    = adapter.Adapter
	Handler    = broadcast.Handler
	Parameters = buffer.Parameters
	Signer     = signing.Signer
	Transport  = transport.Transport
	// RoundListener is called with the round number after every gossip round.
	RoundListener = broadcast.RoundListener
)

// Broadcaster disseminates published messages to every member of its view.
type Broadcaster interface {
	// Publish buffers content for the next rounds. When notifyLocal is set the
	// registered handlers also receive it immediately.
	Publish(content []byte, notifyLocal bool)
	// Register adds a delivery handler and returns a function removing it.
	Register(h Handler) (remove func())
	// Sweep exchanges state with one peer on every ring and returns how many
	// answered.
	Sweep(ctx context.Context) (int, error)
	// GossipOnce runs a single round outside the periodic schedule.
	GossipOnce(ctx context.Context)
	Round() int
	BufferSize() int
	ClearBuffer()
	Started() bool
	// Close stops gossiping, drops buffered messages and waits for the round loop
	// to exit.
	Close() error
}

// ContextID derives the identifier of a broadcast group from its name. Members
// gossiping in the same group must agree on it.
func ContextID(name string) Digest { return digest.Default.Hash([]byte(name)) }

// NewMember identifies a member by the digest of its public key.
func NewMember(pk signing.PublicKey, addr Address) Member {
	return member.New(pk, addr, digest.Default)
}

// NewView builds a view named after the broadcast group holding the given members.
func NewView(name string, rings int, members ...Member) (*View, error) {
	v, err := member.NewView(ContextID(name), member.Config{Rings: rings})
	if err != nil {
		return nil, err
	}
	v.Add(members...)
	return v, nil
}

type rbc struct {
	*broadcast.Broadcaster
}

var _ Broadcaster = (*rbc)(nil)

func (r *rbc) Close() error {
	r.Stop()
	<-r.Done()
	return nil
}
