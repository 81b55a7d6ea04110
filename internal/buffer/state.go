package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/message"
)

const shardCount = 32

type entry struct {
	hash    digest.Digest
	payload []byte
	seq     uint64
	age     atomic.Int64
}

// merge raises the entry's age to at least age and returns the resulting age.
func (e *entry) merge(age int) int {
	for {
		cur := e.age.Load()
		if int64(age) <= cur {
			return int(cur)
		}
		if e.age.CompareAndSwap(cur, int64(age)) {
			return age
		}
	}
}

func (e *entry) message() message.AgedMessage {
	return message.AgedMessage{Hash: e.hash, Payload: e.payload, Age: int(e.age.Load())}
}

type shard struct {
	mu      sync.RWMutex
	entries map[digest.Digest]*entry
}

// state is a map from digest to entry split across independently locked shards.
type state struct {
	shards [shardCount]shard
	size   atomic.Int64
}

func newState() *state {
	s := &state{}
	for i := range s.shards {
		s.shards[i].entries = make(map[digest.Digest]*entry)
	}
	return s
}

func (s *state) shard(d digest.Digest) *shard { return &s.shards[int(d[0])%shardCount] }

func (s *state) get(d digest.Digest) (*entry, bool) {
	sh := s.shard(d)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[d]
	return e, ok
}

// put stores e, replacing any existing entry. It reports whether the key was new.
func (s *state) put(e *entry) bool {
	sh := s.shard(e.hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, existed := sh.entries[e.hash]
	sh.entries[e.hash] = e
	if !existed {
		s.size.Add(1)
	}
	return !existed
}

// putIfAbsent stores e unless the key is already present, in which case the
// existing entry is returned.
func (s *state) putIfAbsent(e *entry) (actual *entry, loaded bool) {
	sh := s.shard(e.hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.entries[e.hash]; ok {
		return cur, true
	}
	sh.entries[e.hash] = e
	s.size.Add(1)
	return e, false
}

// removeIf deletes the key only if it still maps to e.
func (s *state) removeIf(e *entry) bool {
	sh := s.shard(e.hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.entries[e.hash]; !ok || cur != e {
		return false
	}
	delete(sh.entries, e.hash)
	s.size.Add(-1)
	return true
}

// snapshot returns the entries held at the time each shard is visited.
func (s *state) snapshot() []*entry {
	out := make([]*entry, 0, s.len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// age increments the age of every entry, removing the ones that have already
// reached maxAge. It returns the number of removed entries.
func (s *state) age(maxAge int) (removed int) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for d, e := range sh.entries {
			if int(e.age.Load()) >= maxAge {
				delete(sh.entries, d)
				removed++
				continue
			}
			e.age.Add(1)
		}
		sh.mu.Unlock()
	}
	s.size.Add(-int64(removed))
	return removed
}

func (s *state) clear() (removed int) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		removed += len(sh.entries)
		sh.entries = make(map[digest.Digest]*entry)
		sh.mu.Unlock()
	}
	s.size.Add(-int64(removed))
	return removed
}

func (s *state) len() int { return int(s.size.Load()) }
