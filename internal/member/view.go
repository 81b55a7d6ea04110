package member

import (
	"sync"

	"github.com/arya-analytics/rbc/internal/digest"
	"go.uber.org/zap"
)

// View is a member's picture of a group: who belongs to it, who is currently live,
// and the rings used to pick gossip partners. The broadcast context ID
// distinguishes views of different groups sharing a transport.
type View struct {
	Config
	id      digest.Digest
	mu      sync.RWMutex
	members Group
	offline map[ID]struct{}
	rings   []*Ring
}

func NewView(id digest.Digest, cfg Config) (*View, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &View{Config: cfg, id: id, members: make(Group), offline: make(map[ID]struct{})}
	v.rebuildLocked()
	return v, nil
}

// ID returns the broadcast context the view belongs to.
func (v *View) ID() digest.Digest { return v.id }

// Add inserts members into the view as active. Re-adding a known member updates its
// address and key.
func (v *View) Add(members ...Member) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range members {
		v.members[m.ID] = m
		delete(v.offline, m.ID)
	}
	v.rebuildLocked()
	v.Logger.Debug("members added", zap.Int("count", len(members)), zap.Int("size", len(v.members)))
}

func (v *View) Remove(id ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.members, id)
	delete(v.offline, id)
	v.rebuildLocked()
}

// Offline marks a member as not live. Offline members keep their ring positions but
// are skipped by ring walks.
func (v *View) Offline(id ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.members[id]; ok {
		v.offline[id] = struct{}{}
	}
}

func (v *View) Activate(id ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.offline, id)
}

func (v *View) IsActive(id ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isActiveLocked(id)
}

func (v *View) isActiveLocked(id ID) bool {
	if _, ok := v.members[id]; !ok {
		return false
	}
	_, off := v.offline[id]
	return !off
}

func (v *View) Get(id ID) (Member, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.members[id]
	return m, ok
}

func (v *View) Members() Group {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.members.Copy()
}

func (v *View) Active() Group {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.members.Where(func(id ID, _ Member) bool { return v.isActiveLocked(id) })
}

// Rings returns the current rings. The returned rings are immutable snapshots.
func (v *View) Rings() []*Ring {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Ring, len(v.rings))
	copy(out, v.rings)
	return out
}

func (v *View) Ring(index int) *Ring {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rings[index]
}

func (v *View) RingCount() int { return v.Config.Rings }

// Tolerance is the number of faulty members the ring layout tolerates.
func (v *View) Tolerance() int { return (v.RingCount() - 1) / 2 }

// Majority is the smallest number of rings that outvotes the tolerated faults.
func (v *View) Majority() int { return v.RingCount() - v.Tolerance() }

// Successor returns the nearest active member after id on the given ring.
func (v *View) Successor(ring int, id ID) (Member, bool) {
	return v.Ring(ring).FindSuccessor(id, v.neighbor(id))
}

// Predecessor returns the nearest active member before id on the given ring.
func (v *View) Predecessor(ring int, id ID) (Member, bool) {
	return v.Ring(ring).FindPredecessor(id, v.neighbor(id))
}

func (v *View) neighbor(id ID) Predicate {
	return func(m Member) IterateResult {
		if m.ID == id {
			return Fail
		}
		if !v.IsActive(m.ID) {
			return Continue
		}
		return Success
	}
}

func (v *View) rebuildLocked() {
	members := v.members.Slice()
	v.rings = make([]*Ring, v.Config.Rings)
	for i := range v.rings {
		v.rings[i] = newRing(i, v.Algorithm, members)
	}
}
