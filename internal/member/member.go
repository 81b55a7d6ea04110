// Package member holds the membership view the broadcaster gossips over: the known
// members of a group, which of them are live, and the rings that order them.
package member

import (
	"github.com/arya-analytics/rbc/internal/address"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/signing"
)

// ID identifies a member. It is the digest of the member's public key.
type ID = digest.Digest

type Member struct {
	ID        ID
	Address   address.Address
	PublicKey signing.PublicKey
}

// New builds a member whose ID is derived from its public key.
func New(pk signing.PublicKey, addr address.Address, algo digest.Algorithm) Member {
	return Member{ID: pk.ID(algo), Address: addr, PublicKey: pk}
}

func (m Member) String() string { return m.ID.Short() + "@" + m.Address.String() }

// Verify checks a signature produced by the member's key.
func (m Member) Verify(msg, sig []byte) bool { return m.PublicKey.Verify(msg, sig) }

type Group map[ID]Member

func (g Group) Where(cond func(ID, Member) bool) Group {
	out := make(Group, len(g))
	for id, m := range g {
		if cond(id, m) {
			out[id] = m
		}
	}
	return out
}

func (g Group) WhereNot(ids ...ID) Group {
	return g.Where(func(id ID, _ Member) bool {
		for _, other := range ids {
			if id == other {
				return false
			}
		}
		return true
	})
}

func (g Group) Copy() Group { return g.Where(func(ID, Member) bool { return true }) }

func (g Group) Addresses() (addresses []address.Address) {
	for _, m := range g {
		addresses = append(addresses, m.Address)
	}
	return addresses
}

func (g Group) Slice() []Member {
	out := make([]Member, 0, len(g))
	for _, m := range g {
		out = append(out, m)
	}
	return out
}
