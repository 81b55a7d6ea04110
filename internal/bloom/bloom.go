// Package bloom implements the probabilistic digest members exchange to summarize the
// messages they hold. Each filter carries a random salt that is mixed into every
// inserted key, so two filters built over the same set never share a bit layout.
package bloom

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
)

const saltSize = 8

// Filter is a salted bloom filter over digests. A nil *Filter is a valid, empty filter.
type Filter struct {
	salt uint64
	bits *bloom.BloomFilter
}

// New builds an empty filter sized for capacity entries at the given false positive
// rate, seeded with a fresh random salt.
func New(capacity int, falsePositiveRate float64) *Filter {
	var b [saltSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(errors.Wrap(err, "[bloom] - failed to read salt"))
	}
	return NewWithSalt(capacity, falsePositiveRate, binary.BigEndian.Uint64(b[:]))
}

func NewWithSalt(capacity int, falsePositiveRate float64, salt uint64) *Filter {
	if capacity < 1 {
		capacity = 1
	}
	return &Filter{salt: salt, bits: bloom.NewWithEstimates(uint(capacity), falsePositiveRate)}
}

func (f *Filter) Salt() uint64 { return f.salt }

func (f *Filter) Add(d digest.Digest) { f.bits.Add(f.key(d)) }

// Contains reports whether d may be in the filter. False positives are possible,
// false negatives are not.
func (f *Filter) Contains(d digest.Digest) bool {
	if f == nil || f.bits == nil {
		return false
	}
	return f.bits.Test(f.key(d))
}

func (f *Filter) key(d digest.Digest) []byte {
	k := make([]byte, saltSize+digest.Size)
	binary.BigEndian.PutUint64(k, f.salt)
	copy(k[saltSize:], d[:])
	return k
}

// MarshalBinary encodes the salt followed by the filter's bit set.
func (f *Filter) MarshalBinary() ([]byte, error) {
	if f == nil || f.bits == nil {
		return nil, nil
	}
	bits, err := f.bits.GobEncode()
	if err != nil {
		return nil, errors.Wrap(err, "[bloom] - failed to encode filter")
	}
	out := make([]byte, saltSize, saltSize+len(bits))
	binary.BigEndian.PutUint64(out, f.salt)
	return append(out, bits...), nil
}

// Unmarshal decodes a filter produced by MarshalBinary. An empty input decodes to a
// nil filter.
func Unmarshal(b []byte) (*Filter, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < saltSize {
		return nil, errors.Newf("[bloom] - truncated filter (%d bytes)", len(b))
	}
	f := &Filter{salt: binary.BigEndian.Uint64(b[:saltSize]), bits: &bloom.BloomFilter{}}
	if err := f.bits.GobDecode(b[saltSize:]); err != nil {
		return nil, errors.Wrap(err, "[bloom] - failed to decode filter")
	}
	return f, nil
}
