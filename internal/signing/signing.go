// Package signing provides the ed25519 identities members use to sign and verify
// broadcast payloads.
package signing

import (
	"bytes"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/cockroachdb/errors"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// Signer signs bytes on behalf of a member.
type Signer interface {
	Sign(msg []byte) []byte
	PublicKey() PublicKey
}

// Verifier checks a signature produced by a Signer.
type Verifier interface {
	Verify(msg, sig []byte) bool
}

// PublicKey is an ed25519 public key.
type PublicKey [PublicKeySize]byte

func PublicKeyFromBytes(b []byte) (pk PublicKey, err error) {
	if len(b) != PublicKeySize {
		return pk, errors.Newf("[signing] - invalid public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, errors.Wrap(err, "[signing] - invalid public key encoding")
	}
	return PublicKeyFromBytes(b)
}

func (pk PublicKey) Bytes() []byte { return pk[:] }

func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

// Verify implements Verifier.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pk[:], msg, sig)
}

// ID derives a member identifier from the key.
func (pk PublicKey) ID(algo digest.Algorithm) digest.Digest { return algo.Hash(pk[:]) }

type edSignerOptions struct {
	priv ed25519.PrivateKey
	file string
	rand io.Reader
}

// Option configures an EdSigner.
type Option func(*edSignerOptions) error

// WithPrivateKey uses an existing private key.
func WithPrivateKey(priv []byte) Option {
	return func(o *edSignerOptions) error {
		if len(priv) != PrivateKeySize {
			return errors.Newf("[signing] - invalid private key length %d", len(priv))
		}
		pair := ed25519.NewKeyFromSeed(priv[:ed25519.SeedSize])
		if !bytes.Equal(pair[ed25519.SeedSize:], priv[ed25519.SeedSize:]) {
			return errors.New("[signing] - private and public key do not match")
		}
		o.priv = ed25519.PrivateKey(priv)
		return nil
	}
}

// WithKeyFromRand generates the key from the given entropy source.
func WithKeyFromRand(r io.Reader) Option {
	return func(o *edSignerOptions) error {
		o.rand = r
		return nil
	}
}

// FromFile loads a hex encoded private key.
func FromFile(path string) Option {
	return func(o *edSignerOptions) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "[signing] - failed to read key file %s", filepath.Base(path))
		}
		priv := make([]byte, hex.DecodedLen(len(bytes.TrimSpace(data))))
		if _, err := hex.Decode(priv, bytes.TrimSpace(data)); err != nil {
			return errors.Wrapf(err, "[signing] - failed to decode key file %s", filepath.Base(path))
		}
		return WithPrivateKey(priv)(o)
	}
}

// ToFile writes a freshly generated key to path. The file must not already exist.
func ToFile(path string) Option {
	return func(o *edSignerOptions) error {
		o.file = path
		return nil
	}
}

// EdSigner signs with an ed25519 private key.
type EdSigner struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

func NewEdSigner(opts ...Option) (*EdSigner, error) {
	o := &edSignerOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.priv == nil {
		_, priv, err := ed25519.GenerateKey(o.rand)
		if err != nil {
			return nil, errors.Wrap(err, "[signing] - failed to generate key pair")
		}
		o.priv = priv
		if o.file != "" {
			if err := writeKey(o.file, priv); err != nil {
				return nil, err
			}
		}
	}
	s := &EdSigner{priv: o.priv}
	copy(s.pub[:], o.priv[ed25519.SeedSize:])
	return s, nil
}

func writeKey(path string, priv ed25519.PrivateKey) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Wrapf(fs.ErrExist, "[signing] - key file %s", filepath.Base(path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "[signing] - failed to stat key file %s", filepath.Base(path))
	}
	return errors.Wrap(
		os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0o600),
		"[signing] - failed to write key file",
	)
}

// Sign implements Signer.
func (s *EdSigner) Sign(msg []byte) []byte { return ed25519.Sign(s.priv, msg) }

// PublicKey implements Signer.
func (s *EdSigner) PublicKey() PublicKey { return s.pub }

func (s *EdSigner) PrivateKey() []byte { return s.priv }
