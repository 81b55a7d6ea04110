package mock_test

import (
	"context"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/arya-analytics/rbc/internal/transport/mock"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	from    []member.ID
	updates int
}

func (r *recorder) Gossip(_ context.Context, from member.ID, req message.Gossip) message.Reconcile {
	r.from = append(r.from, from)
	return message.Reconcile{Updates: []message.AgedMessage{{Age: req.Ring}}}
}

func (r *recorder) Update(_ context.Context, from member.ID, _ message.Update) {
	r.from = append(r.from, from)
	r.updates++
}

var _ = Describe("Network", func() {
	var (
		ctx  = context.Background()
		id   = digest.Default.Hash([]byte("ctx"))
		a, b = member.Member{ID: digest.Default.Hash([]byte("a"))}, member.Member{ID: digest.Default.Hash([]byte("b"))}
		net  *mock.Network
		rec  *recorder
	)
	BeforeEach(func() {
		net = mock.NewNetwork()
		rec = &recorder{}
		net.Route(b.ID).Register(id, rec)
	})
	It("Should route requests and identify the caller", func() {
		l, err := net.Route(a.ID).Connect(id, b)
		Expect(err).ToNot(HaveOccurred())
		Expect(l.Member()).To(Equal(b))
		res, err := l.Gossip(ctx, message.Gossip{Ring: 2})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Updates[0].Age).To(Equal(2))
		Expect(l.Update(ctx, message.Update{})).To(Succeed())
		Expect(rec.from).To(Equal([]member.ID{a.ID, a.ID}))
		Expect(rec.updates).To(Equal(1))
		Expect(net.Requests()).To(Equal(2))
		Expect(l.Close()).To(Succeed())
	})
	It("Should fail to connect to an unknown member", func() {
		_, err := net.Route(a.ID).Connect(id, member.Member{ID: digest.Zero})
		Expect(errors.Is(err, transport.ErrUnreachable)).To(BeTrue())
	})
	It("Should fail requests to a disconnected member", func() {
		l, _ := net.Route(a.ID).Connect(id, b)
		net.Disconnect(b.ID)
		_, err := l.Gossip(ctx, message.Gossip{})
		Expect(errors.Is(err, transport.ErrUnreachable)).To(BeTrue())
		net.Reconnect(b.ID)
		_, err = l.Gossip(ctx, message.Gossip{})
		Expect(err).ToNot(HaveOccurred())
	})
	It("Should fail requests for an unregistered context", func() {
		l, _ := net.Route(a.ID).Connect(digest.Zero, b)
		Expect(errors.Is(l.Update(ctx, message.Update{}), transport.ErrUnavailable)).To(BeTrue())
	})
})
