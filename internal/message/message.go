// Package message defines the values members exchange during a gossip round.
package message

import (
	"github.com/arya-analytics/rbc/internal/bloom"
	"github.com/arya-analytics/rbc/internal/digest"
)

// AgedMessage is a buffered payload together with the number of rounds it has
// survived. Hash is computed locally from Payload and is never trusted from the wire.
type AgedMessage struct {
	Hash    digest.Digest
	Payload []byte
	Age     int
}

// Gossip opens a round: the initiator's digest of what it holds.
type Gossip struct {
	Ring    int
	Digests *bloom.Filter
}

// Reconcile answers a Gossip with what the responder believes the initiator is
// missing, plus the responder's own digest so the initiator can push back.
type Reconcile struct {
	Updates []AgedMessage
	Digests *bloom.Filter
}

// Update closes a round with what the initiator believes the responder is missing.
type Update struct {
	Ring    int
	Updates []AgedMessage
}
