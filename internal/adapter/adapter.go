// Package adapter is the seam between the broadcast engine and application payloads.
// The engine never looks inside a payload except through an Adapter.
package adapter

import (
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/signing"
)

// Msg is a delivered message as the application sees it.
type Msg struct {
	Source  []member.ID
	Content []byte
	Hash    digest.Digest
}

type Adapter interface {
	// Verify reports whether payload is authentic.
	Verify(payload []byte) bool
	// Hash identifies payload.
	Hash(payload []byte) digest.Digest
	// Source returns the members that originated payload.
	Source(payload []byte) []member.ID
	// Wrap turns application content into a payload on behalf of signer.
	Wrap(signer signing.Signer, content []byte) ([]byte, error)
	// Unwrap extracts the application content from a buffered message.
	Unwrap(m message.AgedMessage) []byte
}

// Resolver looks up members by ID. *member.View satisfies it.
type Resolver interface {
	Get(id member.ID) (member.Member, bool)
}

// Raw passes content through untouched. Every payload verifies and has no source.
type Raw struct{ Algorithm digest.Algorithm }

var _ Adapter = Raw{}

func (r Raw) Verify([]byte) bool { return true }

func (r Raw) Hash(payload []byte) digest.Digest { return r.algo().Hash(payload) }

func (r Raw) Source([]byte) []member.ID { return nil }

func (r Raw) Wrap(_ signing.Signer, content []byte) ([]byte, error) { return content, nil }

func (r Raw) Unwrap(m message.AgedMessage) []byte { return m.Payload }

func (r Raw) algo() digest.Algorithm {
	if r.Algorithm == 0 {
		return digest.Default
	}
	return r.Algorithm
}
