package mock_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/arya-analytics/rbc"
	"github.com/arya-analytics/rbc/mock"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Builder", func() {
	var (
		ctx     = context.Background()
		builder *mock.Builder
	)
	BeforeEach(func() {
		builder = mock.NewBuilder(3, rbc.WithClock(clockwork.NewFakeClock()), rbc.WithInterval(time.Second))
	})
	AfterEach(func() { Expect(builder.Close()).To(Succeed()) })
	It("Should provision started broadcasters over a shared network", func() {
		bs, err := builder.New(5)
		Expect(err).ToNot(HaveOccurred())
		Expect(bs).To(HaveLen(5))
		Expect(builder.Members).To(HaveLen(5))
		for _, b := range bs {
			Expect(b.Started()).To(BeTrue())
		}
		_, err = builder.New(1)
		Expect(err).To(HaveOccurred())
	})
	It("Should disseminate a message to every member", func() {
		builder.Rings = 1
		bs, err := builder.New(3)
		Expect(err).ToNot(HaveOccurred())
		var delivered atomic.Int64
		for _, b := range bs {
			b.Register(func(msgs []rbc.Msg) { delivered.Add(int64(len(msgs))) })
		}
		bs[0].Publish([]byte("hello"), true)
		builder.Rounds(ctx, 2)
		Expect(delivered.Load()).To(Equal(int64(3)))
		Expect(builder.Network.Requests()).To(BeNumerically(">", 0))
	})
})
