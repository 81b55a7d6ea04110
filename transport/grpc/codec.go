package grpc

import (
	"bytes"
	"math"

	"github.com/arya-analytics/rbc/internal/bloom"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/metrics"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// frame is a value the codec can put on the wire.
type frame interface {
	op() string
	marshal() ([]byte, error)
	unmarshal(b []byte) error
}

// codec encodes frames with protowire so that the service needs no generated code.
type codec struct{}

const codecName = "rbc"

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	f, ok := v.(frame)
	if !ok {
		return nil, errors.Newf("[grpc] - cannot marshal %T", v)
	}
	b, err := f.marshal()
	if err != nil {
		return nil, err
	}
	metrics.TransportBytes(f.op(), "out", len(b))
	return b, nil
}

func (codec) Unmarshal(b []byte, v any) error {
	f, ok := v.(frame)
	if !ok {
		return errors.Newf("[grpc] - cannot unmarshal into %T", v)
	}
	metrics.TransportBytes(f.op(), "in", len(b))
	return f.unmarshal(b)
}

const (
	fieldRing    protowire.Number = 1
	fieldDigests protowire.Number = 2
	fieldUpdates protowire.Number = 3

	fieldHash    protowire.Number = 1
	fieldPayload protowire.Number = 2
	fieldAge     protowire.Number = 3
)

var errMalformed = errors.New("[grpc] - malformed frame")

// |||||| GOSSIP ||||||

type gossipRequest struct{ message.Gossip }

func (r *gossipRequest) op() string { return "gossip" }

func (r *gossipRequest) marshal() ([]byte, error) {
	b := appendRing(nil, r.Ring)
	return appendFilter(b, r.Digests)
}

func (r *gossipRequest) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, v []byte, x uint64) (err error) {
		switch num {
		case fieldRing:
			if x > math.MaxInt32 {
				return errors.Wrapf(errMalformed, "ring %d out of range", x)
			}
			r.Ring = int(x)
		case fieldDigests:
			r.Digests, err = bloom.Unmarshal(v)
		}
		return err
	})
}

type reconcileResponse struct{ message.Reconcile }

func (r *reconcileResponse) op() string { return "gossip" }

func (r *reconcileResponse) marshal() ([]byte, error) {
	b, err := appendFilter(nil, r.Digests)
	if err != nil {
		return nil, err
	}
	return appendUpdates(b, r.Updates), nil
}

func (r *reconcileResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, v []byte, _ uint64) (err error) {
		switch num {
		case fieldDigests:
			r.Digests, err = bloom.Unmarshal(v)
		case fieldUpdates:
			var m message.AgedMessage
			if m, err = unmarshalAged(v); err == nil {
				r.Updates = append(r.Updates, m)
			}
		}
		return err
	})
}

// |||||| UPDATE ||||||

type updateRequest struct{ message.Update }

func (r *updateRequest) op() string { return "update" }

func (r *updateRequest) marshal() ([]byte, error) {
	return appendUpdates(appendRing(nil, r.Ring), r.Updates), nil
}

func (r *updateRequest) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, v []byte, x uint64) (err error) {
		switch num {
		case fieldRing:
			if x > math.MaxInt32 {
				return errors.Wrapf(errMalformed, "ring %d out of range", x)
			}
			r.Ring = int(x)
		case fieldUpdates:
			var m message.AgedMessage
			if m, err = unmarshalAged(v); err == nil {
				r.Updates = append(r.Updates, m)
			}
		}
		return err
	})
}

type ack struct{}

func (*ack) op() string { return "update" }

func (*ack) marshal() ([]byte, error) { return nil, nil }

func (*ack) unmarshal([]byte) error { return nil }

// |||||| FIELDS ||||||

func appendRing(b []byte, ring int) []byte {
	b = protowire.AppendTag(b, fieldRing, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(ring))
}

func appendFilter(b []byte, f *bloom.Filter) ([]byte, error) {
	if f == nil {
		return b, nil
	}
	raw, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldDigests, protowire.BytesType)
	return protowire.AppendBytes(b, raw), nil
}

func appendUpdates(b []byte, updates []message.AgedMessage) []byte {
	for _, m := range updates {
		var e []byte
		e = protowire.AppendTag(e, fieldHash, protowire.BytesType)
		e = protowire.AppendBytes(e, m.Hash.Bytes())
		e = protowire.AppendTag(e, fieldPayload, protowire.BytesType)
		e = protowire.AppendBytes(e, m.Payload)
		e = protowire.AppendTag(e, fieldAge, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(m.Age))
		b = protowire.AppendTag(b, fieldUpdates, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

// unmarshalAged copies the payload out of b, which the caller may reuse.
func unmarshalAged(b []byte) (m message.AgedMessage, err error) {
	err = walk(b, func(num protowire.Number, v []byte, x uint64) (ferr error) {
		switch num {
		case fieldHash:
			m.Hash, ferr = digest.FromBytes(v)
		case fieldPayload:
			m.Payload = bytes.Clone(v)
		case fieldAge:
			if x > math.MaxInt32 {
				return errors.Wrapf(errMalformed, "age %d out of range", x)
			}
			m.Age = int(x)
		}
		return ferr
	})
	return m, err
}

func walk(b []byte, visit func(num protowire.Number, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Mark(protowire.ParseError(n), errMalformed)
		}
		b = b[n:]
		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Mark(protowire.ParseError(n), errMalformed)
		}
		b = b[n:]
		if err := visit(num, v, x); err != nil {
			return err
		}
	}
	return nil
}
