package member

import (
	"sort"

	"github.com/arya-analytics/rbc/internal/digest"
)

// IterateResult steers a ring walk.
type IterateResult uint8

const (
	// Continue moves on to the next member.
	Continue IterateResult = iota
	// Success stops the walk and selects the current member.
	Success
	// Fail stops the walk without selecting anyone.
	Fail
)

// Predicate decides the fate of each member visited during a ring walk.
type Predicate func(Member) IterateResult

type ringEntry struct {
	pos    digest.Digest
	member Member
}

// Ring is an immutable total order over a set of members. Each member sits at the
// position given by hashing its ID together with the ring's index, so every ring
// of a view orders the same members differently.
type Ring struct {
	index   int
	algo    digest.Algorithm
	entries []ringEntry
}

func newRing(index int, algo digest.Algorithm, members []Member) *Ring {
	r := &Ring{index: index, algo: algo, entries: make([]ringEntry, len(members))}
	for i, m := range members {
		r.entries[i] = ringEntry{pos: algo.HashRing(m.ID, index), member: m}
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].pos.Compare(r.entries[j].pos) < 0
	})
	return r
}

func (r *Ring) Index() int { return r.index }

func (r *Ring) Len() int { return len(r.entries) }

// Members returns the ring's members in ring order.
func (r *Ring) Members() []Member {
	out := make([]Member, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.member
	}
	return out
}

// FindSuccessor walks the ring clockwise starting just after d's position, wrapping
// once, and returns the first member the predicate selects. A member sitting exactly
// at d's position is visited last.
func (r *Ring) FindSuccessor(d digest.Digest, pred Predicate) (Member, bool) {
	n := len(r.entries)
	if n == 0 {
		return Member{}, false
	}
	pos := r.algo.HashRing(d, r.index)
	start := sort.Search(n, func(i int) bool { return r.entries[i].pos.Compare(pos) > 0 })
	for k := 0; k < n; k++ {
		m := r.entries[(start+k)%n].member
		switch pred(m) {
		case Success:
			return m, true
		case Fail:
			return Member{}, false
		}
	}
	return Member{}, false
}

// FindPredecessor is the counter-clockwise counterpart of FindSuccessor.
func (r *Ring) FindPredecessor(d digest.Digest, pred Predicate) (Member, bool) {
	n := len(r.entries)
	if n == 0 {
		return Member{}, false
	}
	pos := r.algo.HashRing(d, r.index)
	start := sort.Search(n, func(i int) bool { return r.entries[i].pos.Compare(pos) >= 0 }) - 1
	for k := 0; k < n; k++ {
		m := r.entries[((start-k)%n+n)%n].member
		switch pred(m) {
		case Success:
			return m, true
		case Fail:
			return Member{}, false
		}
	}
	return Member{}, false
}
