// Package mock provisions groups of in-memory broadcasters connected by a simulated
// network.
package mock

import (
	"context"
	"strconv"

	"github.com/arya-analytics/rbc"
	"github.com/arya-analytics/rbc/internal/signing"
	tmock "github.com/arya-analytics/rbc/internal/transport/mock"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

type Builder struct {
	// Name identifies the broadcast group.
	Name string
	// Rings is the number of rings of every member's view.
	Rings int
	// PortRangeStart is the first port of the members' fictitious addresses.
	PortRangeStart int
	DefaultOptions []rbc.Option
	Network        *tmock.Network
	Members        []rbc.Member
	Broadcasters   map[rbc.MemberID]rbc.Broadcaster
}

func NewBuilder(rings int, defaultOpts ...rbc.Option) *Builder {
	return &Builder{
		Name:           "mock",
		Rings:          rings,
		PortRangeStart: 6000,
		DefaultOptions: defaultOpts,
		Network:        tmock.NewNetwork(),
		Broadcasters:   make(map[rbc.MemberID]rbc.Broadcaster),
	}
}

// New opens n broadcasters sharing the same view. The view holds exactly these n
// members, so New is called once per builder.
func (b *Builder) New(n int, opts ...rbc.Option) ([]rbc.Broadcaster, error) {
	if len(b.Members) > 0 {
		return nil, errors.New("[mock] - builder already provisioned")
	}
	signers := make([]signing.Signer, n)
	b.Members = make([]rbc.Member, n)
	g := errgroup.Group{}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			s, err := signing.NewEdSigner()
			if err != nil {
				return err
			}
			signers[i] = s
			addr := rbc.Address("localhost:" + strconv.Itoa(b.PortRangeStart+i))
			b.Members[i] = rbc.NewMember(s.PublicKey(), addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]rbc.Broadcaster, n)
	for i, m := range b.Members {
		view, err := rbc.NewView(b.Name, b.Rings, b.Members...)
		if err != nil {
			return nil, err
		}
		br, err := rbc.Open(m, view, signers[i], b.Network.Route(m.ID), append(b.DefaultOptions, opts...)...)
		if err != nil {
			return nil, err
		}
		b.Broadcasters[m.ID] = br
		out[i] = br
	}
	return out, nil
}

// Rounds runs count rounds on every broadcaster, one broadcaster at a time.
func (b *Builder) Rounds(ctx context.Context, count int) {
	for i := 0; i < count; i++ {
		for _, m := range b.Members {
			b.Broadcasters[m.ID].GossipOnce(ctx)
		}
	}
}

// Close closes every broadcaster concurrently.
func (b *Builder) Close() error {
	g := errgroup.Group{}
	for _, br := range b.Broadcasters {
		br := br
		g.Go(br.Close)
	}
	return g.Wait()
}
