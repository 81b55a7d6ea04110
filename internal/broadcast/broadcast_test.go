package broadcast_test

import (
	"context"
	"strconv"
	"time"

	"github.com/arya-analytics/rbc/internal/adapter"
	"github.com/arya-analytics/rbc/internal/broadcast"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/arya-analytics/rbc/internal/transport/mock"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Broadcaster", func() {
	var (
		ctx = context.Background()
		h   *harness
	)
	AfterEach(func() {
		if h != nil {
			h.stop()
			h = nil
		}
	})
	Describe("Three Members", func() {
		BeforeEach(func() {
			h = newHarness(3, 1, time.Hour)
			h.start()
		})
		It("Should deliver a message to every peer exactly once and age it out", func() {
			a := h.nodes[0]
			a.b.Publish([]byte("m"), false)
			Expect(a.b.BufferSize()).To(Equal(1))
			h.rounds(1)
			Expect(h.nodes[1].count("m")).To(Equal(1))
			Expect(h.nodes[2].count("m")).To(Equal(1))
			Expect(a.count("m")).To(BeZero())
			h.rounds(2)
			Expect(a.b.BufferSize()).To(BeZero())
			for _, n := range h.nodes[1:] {
				Expect(n.count("m")).To(Equal(1))
			}
			Expect(a.b.Round()).To(Equal(3))
		})
		It("Should notify the publisher locally when asked to", func() {
			a := h.nodes[0]
			a.b.Publish([]byte("local"), true)
			Expect(a.count("local")).To(Equal(1))
			h.rounds(3)
			Expect(a.count("local")).To(Equal(1))
		})
		Describe("Authorization", func() {
			var (
				target, pred, other *node
			)
			BeforeEach(func() {
				target = h.nodes[0]
				p, ok := target.view.Predecessor(0, target.member.ID)
				Expect(ok).To(BeTrue())
				pred = h.byID(p.ID)
				for _, n := range h.nodes[1:] {
					if n != pred {
						other = n
					}
				}
				target.b.Publish([]byte("held"), false)
			})
			It("Should answer gossip from the ring predecessor", func() {
				l, err := pred.transport.Connect(contextID, target.member)
				Expect(err).ToNot(HaveOccurred())
				res, err := l.Gossip(ctx, message.Gossip{Ring: 0})
				Expect(err).ToNot(HaveOccurred())
				Expect(res.Updates).To(HaveLen(1))
				Expect(res.Digests).ToNot(BeNil())
			})
			It("Should return an empty reconcile to a non-predecessor", func() {
				l, err := other.transport.Connect(contextID, target.member)
				Expect(err).ToNot(HaveOccurred())
				res, err := l.Gossip(ctx, message.Gossip{Ring: 0})
				Expect(err).ToNot(HaveOccurred())
				Expect(res.Updates).To(BeEmpty())
				Expect(res.Digests).To(BeNil())
			})
			It("Should reject gossip on an unknown ring", func() {
				l, _ := pred.transport.Connect(contextID, target.member)
				res, err := l.Gossip(ctx, message.Gossip{Ring: 7})
				Expect(err).ToNot(HaveOccurred())
				Expect(res.Updates).To(BeEmpty())
			})
			It("Should ignore updates from a non-predecessor", func() {
				other.b.Publish([]byte("pushed"), false)
				updates := other.b.Buffer().Reconcile(nil)
				Expect(updates).To(HaveLen(1))
				l, _ := other.transport.Connect(contextID, target.member)
				Expect(l.Update(ctx, message.Update{Ring: 0, Updates: updates})).To(Succeed())
				Expect(target.b.BufferSize()).To(Equal(1))
				Expect(target.count("pushed")).To(BeZero())
				By("Accepting the same update from the predecessor")
				l, _ = pred.transport.Connect(contextID, target.member)
				Expect(l.Update(ctx, message.Update{Ring: 0, Updates: updates})).To(Succeed())
				Expect(target.b.BufferSize()).To(Equal(2))
				Expect(target.count("pushed")).To(Equal(1))
			})
		})
	})
	Describe("Convergence", func() {
		publishAll := func() {
			for i, n := range h.nodes {
				n.b.Publish([]byte("msg-"+strconv.Itoa(i)), false)
			}
		}
		It("Should deliver every message to every member of a single ring", func() {
			h = newHarness(3, 1, time.Hour)
			h.start()
			publishAll()
			h.rounds(2)
			for i, n := range h.nodes {
				Expect(n.total()).To(Equal(2))
				for j := range h.nodes {
					if j != i {
						Expect(n.count("msg-" + strconv.Itoa(j))).To(Equal(1))
					}
				}
			}
		})
		DescribeTable("Should disseminate without redelivery and drain every buffer",
			func(members, rings int) {
				h = newHarness(members, rings, time.Hour)
				h.start()
				publishAll()
				h.rounds(rings + 1)
				var total int
				for i, n := range h.nodes {
					Expect(n.count("msg-" + strconv.Itoa(i))).To(BeZero())
					n.mu.Lock()
					for _, c := range n.delivered {
						Expect(c).To(Equal(1))
					}
					n.mu.Unlock()
					total += n.total()
				}
				Expect(total).To(BeNumerically(">=", members*(members-1)*9/10))
				By("Draining every buffer once messages age out")
				h.rounds(2 * (rings + 1))
				after := 0
				for _, n := range h.nodes {
					Expect(n.b.BufferSize()).To(BeZero())
					after += n.total()
				}
				Expect(after).To(BeNumerically("<=", members*(members-1)))
			},
			Entry("five members, three rings", 5, 3),
			Entry("ten members, five rings", 10, 5),
		)
	})
	Describe("Lifecycle", func() {
		BeforeEach(func() {
			h = newHarness(3, 1, time.Second)
		})
		It("Should ignore publishes while stopped", func() {
			h.nodes[0].b.Publish([]byte("x"), true)
			Expect(h.nodes[0].b.BufferSize()).To(BeZero())
			Expect(h.nodes[0].count("x")).To(BeZero())
		})
		It("Should treat repeated starts and stops as no-ops", func() {
			b := h.nodes[0].b
			b.Start()
			b.Start()
			Expect(b.Started()).To(BeTrue())
			b.Stop()
			b.Stop()
			Expect(b.Started()).To(BeFalse())
			Eventually(b.Done()).Should(BeClosed())
		})
		It("Should clear its buffer and deregister on stop", func() {
			h.start()
			a := h.nodes[0]
			a.b.Publish([]byte("x"), false)
			a.b.Stop()
			Expect(a.b.BufferSize()).To(BeZero())
			l, err := h.nodes[1].transport.Connect(contextID, a.member)
			Expect(err).ToNot(HaveOccurred())
			_, err = l.Gossip(ctx, message.Gossip{})
			Expect(errors.Is(err, transport.ErrUnavailable)).To(BeTrue())
		})
		It("Should run rounds on the configured interval", func() {
			a := h.nodes[0]
			rounds := make(chan int, 10)
			a.b.SetRoundListener(func(r int) { rounds <- r })
			a.b.Start()
			for i := 1; i <= 3; i++ {
				h.clock.BlockUntil(1)
				h.clock.Advance(time.Second)
				Eventually(rounds).Should(Receive(Equal(i)))
			}
			a.b.Stop()
			Eventually(a.b.Done()).Should(BeClosed())
		})
		It("Should not tick for a round that outlived a restart", func() {
			a := h.nodes[0]
			peers := newStalling()
			for _, n := range h.nodes[1:] {
				n.transport.Register(contextID, peers)
			}
			rounds := make(chan int, 10)
			a.b.SetRoundListener(func(r int) { rounds <- r })
			a.b.Start()
			stale := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(stale)
				a.b.GossipOnce(ctx)
			}()
			Eventually(peers.entered).Should(Receive())
			prev := a.b.Done()
			a.b.Stop()
			Eventually(prev).Should(BeClosed())
			a.b.Start()
			close(peers.release)
			Eventually(stale).Should(BeClosed())
			Expect(a.b.Round()).To(BeZero())
			Expect(rounds).ToNot(Receive())
			By("Running one round per interval after the restart")
			for i := 1; i <= 2; i++ {
				h.clock.BlockUntil(1)
				h.clock.Advance(time.Second)
				Eventually(rounds).Should(Receive(Equal(i)))
			}
			Consistently(rounds, 50*time.Millisecond).ShouldNot(Receive())
			Expect(a.b.Round()).To(Equal(2))
			a.b.Stop()
		})
		It("Should tick even when the round fails", func() {
			h.start()
			a := h.nodes[0]
			h.net.Disconnect(a.member.ID)
			a.b.Publish([]byte("x"), false)
			a.b.GossipOnce(ctx)
			Expect(a.b.Round()).To(Equal(1))
			Expect(a.b.BufferSize()).To(Equal(1))
			h.rounds(2)
			Expect(a.b.BufferSize()).To(BeZero())
			Expect(h.nodes[1].count("x")).To(BeZero())
		})
	})
	Describe("Delivery", func() {
		BeforeEach(func() {
			h = newHarness(3, 1, time.Hour)
			h.start()
		})
		It("Should survive a panicking handler", func() {
			b := h.nodes[1]
			b.b.Register(func([]adapter.Msg) { panic("boom") })
			h.nodes[0].b.Publish([]byte("m"), false)
			Expect(func() { h.rounds(1) }).ToNot(Panic())
			Expect(b.count("m")).To(Equal(1))
		})
		It("Should survive a panicking round listener", func() {
			a := h.nodes[0]
			a.b.SetRoundListener(func(int) { panic("boom") })
			Expect(func() { a.b.GossipOnce(ctx) }).ToNot(Panic())
			Expect(a.b.Round()).To(Equal(1))
			Expect(func() { a.b.GossipOnce(ctx) }).ToNot(Panic())
			Expect(a.b.Round()).To(Equal(2))
		})
		It("Should stop delivering to a removed handler", func() {
			var got int
			remove := h.nodes[1].b.Register(func(msgs []adapter.Msg) { got += len(msgs) })
			remove()
			h.nodes[0].b.Publish([]byte("m"), false)
			h.rounds(1)
			Expect(got).To(BeZero())
			Expect(h.nodes[1].count("m")).To(Equal(1))
		})
	})
	Describe("Sweep", func() {
		It("Should exchange with every ring and report the tally", func() {
			h = newHarness(5, 3, time.Hour)
			h.start()
			a := h.nodes[0]
			a.b.Publish([]byte("m"), false)
			tally, err := a.b.Sweep(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tally).To(Equal(3))
			for r := 0; r < 3; r++ {
				succ, ok := a.view.Successor(r, a.member.ID)
				Expect(ok).To(BeTrue())
				Expect(h.byID(succ.ID).count("m")).To(Equal(1))
			}
		})
		It("Should report no answers when the member is cut off", func() {
			h = newHarness(5, 3, time.Hour)
			h.start()
			h.net.Disconnect(h.nodes[0].member.ID)
			tally, err := h.nodes[0].b.Sweep(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tally).To(BeZero())
		})
	})
	Describe("Config", func() {
		It("Should reject a self that is not in the view", func() {
			view, err := member.NewView(contextID, member.Config{})
			Expect(err).ToNot(HaveOccurred())
			self := digest.Default.Hash([]byte("self"))
			_, err = broadcast.New(broadcast.Config{
				View:      view,
				Self:      member.Member{ID: self},
				Transport: mock.NewNetwork().Route(self),
			})
			Expect(err).To(HaveOccurred())
		})
	})
})
