package digest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// Size is the length of a Digest in bytes.
const Size = 32

// Digest is a fixed-size hash identifying a message or a member.
type Digest [Size]byte

// Zero is the empty digest.
var Zero Digest

func FromBytes(b []byte) (d Digest, err error) {
	if len(b) != Size {
		return d, errors.Newf("[digest] - expected %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) Bytes() []byte { return d[:] }

func (d Digest) IsZero() bool { return d == Zero }

// Compare orders digests lexicographically.
func (d Digest) Compare(o Digest) int { return bytes.Compare(d[:], o[:]) }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first eight hex characters of the digest, useful for logging.
func (d Digest) Short() string { return hex.EncodeToString(d[:4]) }

// Algorithm selects the hash function used to compute digests.
type Algorithm uint8

const (
	algorithmUnset Algorithm = iota
	BLAKE3
	SHA256
)

// Default is the algorithm used when none is configured.
const Default = BLAKE3

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "", "default", "blake3":
		return BLAKE3, nil
	case "sha256", "sha-256":
		return SHA256, nil
	}
	return algorithmUnset, errors.Newf("[digest] - unknown algorithm %q", s)
}

func (a Algorithm) String() string {
	switch a {
	case BLAKE3:
		return "blake3"
	case SHA256:
		return "sha256"
	}
	return "unset"
}

func (a Algorithm) Valid() bool { return a == BLAKE3 || a == SHA256 }

// Hash digests the concatenation of parts.
func (a Algorithm) Hash(parts ...[]byte) (d Digest) {
	h := a.acquire()
	for _, p := range parts {
		h.Write(p)
	}
	h.Sum(d[:0])
	a.release(h)
	return d
}

// HashRing returns the position of d on the ring with the given index. Every ring
// orders the same digests independently.
func (a Algorithm) HashRing(d Digest, ring int) Digest {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(ring))
	return a.Hash(d[:], idx[:])
}

var (
	blake3Pool = &sync.Pool{New: func() any { return blake3.New() }}
	sha256Pool = &sync.Pool{New: func() any { return sha256.New() }}
)

func (a Algorithm) acquire() hash.Hash {
	if a == SHA256 {
		return sha256Pool.Get().(hash.Hash)
	}
	return blake3Pool.Get().(*blake3.Hasher)
}

func (a Algorithm) release(h hash.Hash) {
	h.Reset()
	if a == SHA256 {
		sha256Pool.Put(h)
		return
	}
	blake3Pool.Put(h)
}
