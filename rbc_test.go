package rbc_test

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/rbc"
	"github.com/arya-analytics/rbc/internal/signing"
	tmock "github.com/arya-analytics/rbc/internal/transport/mock"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var _ = Describe("Open", func() {
	var (
		ctx     = context.Background()
		net     *tmock.Network
		members []rbc.Member
		signers []signing.Signer
		clock   clockwork.FakeClock
	)
	BeforeEach(func() {
		net = tmock.NewNetwork()
		clock = clockwork.NewFakeClock()
		members, signers = nil, nil
		for i := 0; i < 3; i++ {
			s, err := signing.NewEdSigner()
			Expect(err).ToNot(HaveOccurred())
			signers = append(signers, s)
			members = append(members, rbc.NewMember(s.PublicKey(), "localhost:0"))
		}
	})
	open := func(i int, opts ...rbc.Option) rbc.Broadcaster {
		view, err := rbc.NewView("open", 1, members...)
		Expect(err).ToNot(HaveOccurred())
		b, err := rbc.Open(members[i], view, signers[i], net.Route(members[i].ID),
			append([]rbc.Option{rbc.WithClock(clock), rbc.WithInterval(time.Second)}, opts...)...)
		Expect(err).ToNot(HaveOccurred())
		return b
	}
	It("Should start the broadcaster", func() {
		b := open(0, rbc.WithLogger(zap.NewNop()))
		Expect(b.Started()).To(BeTrue())
		Expect(b.Close()).To(Succeed())
		Expect(b.Started()).To(BeFalse())
	})
	It("Should deliver messages across broadcasters", func() {
		bs := []rbc.Broadcaster{open(0), open(1), open(2)}
		defer func() {
			for _, b := range bs {
				Expect(b.Close()).To(Succeed())
			}
		}()
		var (
			mu  sync.Mutex
			got []string
		)
		for _, b := range bs[1:] {
			b.Register(func(msgs []rbc.Msg) {
				mu.Lock()
				defer mu.Unlock()
				for _, m := range msgs {
					got = append(got, string(m.Content))
				}
			})
		}
		bs[0].Publish([]byte("hello"), false)
		for _, b := range bs {
			b.GossipOnce(ctx)
		}
		mu.Lock()
		defer mu.Unlock()
		Expect(got).To(Equal([]string{"hello", "hello"}))
	})
	It("Should call the round listener", func() {
		var rounds []int
		b := open(0, rbc.WithRoundListener(func(r int) { rounds = append(rounds, r) }))
		b.GossipOnce(ctx)
		b.GossipOnce(ctx)
		Expect(b.Close()).To(Succeed())
		Expect(rounds).To(Equal([]int{1, 2}))
	})
	It("Should register collectors on the provided registry", func() {
		reg := prometheus.NewRegistry()
		b := open(0, rbc.WithMetrics(reg))
		defer func() { Expect(b.Close()).To(Succeed()) }()
		b.GossipOnce(ctx)
		families, err := reg.Gather()
		Expect(err).ToNot(HaveOccurred())
		var names []string
		for _, f := range families {
			names = append(names, f.GetName())
		}
		Expect(names).To(ContainElement("rbc_broadcast_rounds_total"))
		By("Tolerating a second registration")
		b2 := open(1, rbc.WithMetrics(reg))
		Expect(b2.Close()).To(Succeed())
	})
	It("Should reject invalid parameters", func() {
		view, err := rbc.NewView("open", 1, members...)
		Expect(err).ToNot(HaveOccurred())
		_, err = rbc.Open(members[0], view, signers[0], net.Route(members[0].ID),
			rbc.WithParameters(rbc.Parameters{FalsePositiveRate: 2}))
		Expect(err).To(HaveOccurred())
	})
})
