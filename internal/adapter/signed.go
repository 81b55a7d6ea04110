package adapter

import (
	"sync/atomic"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Signed wraps content in an envelope naming the source member and a nonce, signed
// with the source's key. A payload is identified by the digest of its signature and
// verifies only if the signature checks out against a member the Resolver knows.
type Signed struct {
	resolver Resolver
	algo     digest.Algorithm
	nonce    atomic.Uint64
}

var _ Adapter = (*Signed)(nil)

func NewSigned(resolver Resolver, algo digest.Algorithm) *Signed {
	if algo == 0 {
		algo = digest.Default
	}
	return &Signed{resolver: resolver, algo: algo}
}

type envelope struct {
	source  member.ID
	nonce   uint64
	content []byte
}

const (
	fieldEnvelope  protowire.Number = 1
	fieldSignature protowire.Number = 2

	fieldSource  protowire.Number = 1
	fieldNonce   protowire.Number = 2
	fieldContent protowire.Number = 3
)

func (s *Signed) Wrap(signer signing.Signer, content []byte) ([]byte, error) {
	if signer == nil {
		return nil, errors.New("[adapter] - signed adapter requires a signer")
	}
	env := envelope{source: signer.PublicKey().ID(s.algo), nonce: s.nonce.Add(1), content: content}
	body := env.marshal()
	var b []byte
	b = protowire.AppendTag(b, fieldEnvelope, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	return protowire.AppendBytes(b, signer.Sign(body)), nil
}

func (s *Signed) Verify(payload []byte) bool {
	body, sig, err := split(payload)
	if err != nil {
		return false
	}
	env, err := unmarshalEnvelope(body)
	if err != nil {
		return false
	}
	m, ok := s.resolver.Get(env.source)
	if !ok {
		return false
	}
	return m.Verify(body, sig)
}

func (s *Signed) Hash(payload []byte) digest.Digest {
	_, sig, err := split(payload)
	if err != nil {
		return s.algo.Hash(payload)
	}
	return s.algo.Hash(sig)
}

func (s *Signed) Source(payload []byte) []member.ID {
	env, err := s.open(payload)
	if err != nil {
		return nil
	}
	return []member.ID{env.source}
}

func (s *Signed) Unwrap(m message.AgedMessage) []byte {
	env, err := s.open(m.Payload)
	if err != nil {
		return nil
	}
	return env.content
}

func (s *Signed) open(payload []byte) (envelope, error) {
	body, _, err := split(payload)
	if err != nil {
		return envelope{}, err
	}
	return unmarshalEnvelope(body)
}

func (e envelope) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendBytes(b, e.source[:])
	b = protowire.AppendTag(b, fieldNonce, protowire.VarintType)
	b = protowire.AppendVarint(b, e.nonce)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	return protowire.AppendBytes(b, e.content)
}

var errMalformed = errors.New("[adapter] - malformed payload")

func split(payload []byte) (body, sig []byte, err error) {
	err = walk(payload, func(num protowire.Number, v []byte, _ uint64) error {
		switch num {
		case fieldEnvelope:
			body = v
		case fieldSignature:
			sig = v
		}
		return nil
	})
	if err == nil && (body == nil || len(sig) != signing.SignatureSize) {
		err = errMalformed
	}
	return body, sig, err
}

func unmarshalEnvelope(b []byte) (e envelope, err error) {
	var hasSource bool
	err = walk(b, func(num protowire.Number, v []byte, x uint64) error {
		switch num {
		case fieldSource:
			src, ferr := digest.FromBytes(v)
			if ferr != nil {
				return ferr
			}
			e.source, hasSource = src, true
		case fieldNonce:
			e.nonce = x
		case fieldContent:
			e.content = v
		}
		return nil
	})
	if err == nil && !hasSource {
		err = errMalformed
	}
	return e, err
}

// walk visits the bytes and varint fields of a protowire message.
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
