package broadcast_test

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/address"
	"github.com/arya-analytics/rbc/internal/broadcast"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/arya-analytics/rbc/internal/transport/mock"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/gomega"
)

var contextID = digest.Default.Hash([]byte("broadcast"))

type node struct {
	member    member.Member
	view      *member.View
	transport *mock.Transport
	b         *broadcast.Broadcaster
	mu        sync.Mutex
	delivered map[digest.Digest]int
	contents  map[string]int
}

func (n *node) handle(msgs []adapter.Msg) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range msgs {
		n.delivered[m.Hash]++
		n.contents[string(m.Content)]++
	}
}

func (n *node) count(content string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.contents[content]
}

func (n *node) total() (t int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.delivered {
		t += c
	}
	return t
}

type harness struct {
	net   *mock.Network
	clock clockwork.FakeClock
	nodes []*node
}

func newHarness(n, rings int, interval time.Duration) *harness {
	h := &harness{net: mock.NewNetwork(), clock: clockwork.NewFakeClock()}
	signers := make([]*signing.EdSigner, n)
	members := make([]member.Member, n)
	for i := range members {
		s, err := signing.NewEdSigner()
		Expect(err).ToNot(HaveOccurred())
		signers[i] = s
		members[i] = member.New(s.PublicKey(), address.Address("localhost:"+strconv.Itoa(6000+i)), digest.Default)
	}
	for i, m := range members {
		view, err := member.NewView(contextID, member.Config{Rings: rings})
		Expect(err).ToNot(HaveOccurred())
		view.Add(members...)
		nd := &node{
			member:    m,
			view:      view,
			transport: h.net.Route(m.ID),
			delivered: make(map[digest.Digest]int),
			contents:  make(map[string]int),
		}
		nd.b, err = broadcast.New(broadcast.Config{
			Interval:  interval,
			View:      view,
			Self:      m,
			Signer:    signers[i],
			Transport: nd.transport,
			Clock:     h.clock,
		})
		Expect(err).ToNot(HaveOccurred())
		nd.b.Register(nd.handle)
		h.nodes = append(h.nodes, nd)
	}
	return h
}

func (h *harness) start() {
	for _, n := range h.nodes {
		n.b.Start()
	}
}

func (h *harness) stop() {
	for _, n := range h.nodes {
		n.b.Stop()
	}
}

// rounds runs count sequential rounds on every node.
func (h *harness) rounds(count int) {
	for i := 0; i < count; i++ {
		for _, n := range h.nodes {
			n.b.GossipOnce(context.Background())
		}
	}
}

func (h *harness) byID(id member.ID) *node {
	for _, n := range h.nodes {
		if n.member.ID == id {
			return n
		}
	}
	return nil
}

// stalling answers gossip only once release is closed, regardless of the caller's
// context.
type stalling struct {
	entered chan struct{}
	release chan struct{}
}

func newStalling() *stalling {
	return &stalling{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *stalling) Gossip(context.Context, member.ID, message.Gossip) message.Reconcile {
	s.entered <- struct{}{}
	<-s.release
	return message.Reconcile{}
}

func (s *stalling) Update(context.Context, member.ID, message.Update) {}
