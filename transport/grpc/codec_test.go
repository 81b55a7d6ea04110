package grpc

import (
	"math"

	"github.com/arya-analytics/rbc/internal/message"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/encoding/protowire"
)

func agedFrame(age uint64) []byte {
	var e []byte
	e = protowire.AppendTag(e, fieldPayload, protowire.BytesType)
	e = protowire.AppendBytes(e, []byte("x"))
	e = protowire.AppendTag(e, fieldAge, protowire.VarintType)
	e = protowire.AppendVarint(e, age)
	b := appendRing(nil, 0)
	b = protowire.AppendTag(b, fieldUpdates, protowire.BytesType)
	return protowire.AppendBytes(b, e)
}

var _ = Describe("Codec", func() {
	It("Should round trip an update", func() {
		in := &updateRequest{message.Update{Ring: 2, Updates: []message.AgedMessage{{Payload: []byte("x"), Age: 3}}}}
		b, err := codec{}.Marshal(in)
		Expect(err).ToNot(HaveOccurred())
		out := &updateRequest{}
		Expect(codec{}.Unmarshal(b, out)).To(Succeed())
		Expect(out.Ring).To(Equal(2))
		Expect(out.Updates).To(HaveLen(1))
		Expect(out.Updates[0].Age).To(Equal(3))
		Expect(out.Updates[0].Payload).To(Equal([]byte("x")))
	})
	It("Should reject ages that do not fit an int32", func() {
		for _, age := range []uint64{math.MaxInt32 + 1, 1 << 63, math.MaxUint64} {
			err := codec{}.Unmarshal(agedFrame(age), &updateRequest{})
			Expect(errors.Is(err, errMalformed)).To(BeTrue())
		}
	})
	It("Should reject rings that do not fit an int32", func() {
		b := protowire.AppendTag(nil, fieldRing, protowire.VarintType)
		b = protowire.AppendVarint(b, 1<<63)
		Expect(errors.Is(codec{}.Unmarshal(b, &gossipRequest{}), errMalformed)).To(BeTrue())
	})
})
