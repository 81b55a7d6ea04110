// Package ring picks gossip partners from a member view and drives multi-round
// operations over them.
package ring

import (
	"math/rand/v2"
	"sync"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Direction is the way a traversal walks each ring from the target digest.
type Direction uint8

const (
	Successor Direction = iota
	Predecessor
)

type SelectorConfig struct {
	View      *member.View
	Self      member.Member
	Transport transport.Transport
	Direction Direction
	// IgnoreSelf skips the local member when walking a ring.
	IgnoreSelf bool
	// NoDuplicates picks a different member on every ring of a traversal when possible.
	NoDuplicates bool
	Logger       *zap.Logger
}

func (cfg SelectorConfig) Merge(def SelectorConfig) SelectorConfig {
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg SelectorConfig) Validate() error {
	if cfg.View == nil {
		return errors.New("[ring] - view required")
	}
	if cfg.Transport == nil {
		return errors.New("[ring] - transport required")
	}
	if cfg.Self.ID.IsZero() {
		return errors.New("[ring] - self required")
	}
	return nil
}

func DefaultSelectorConfig() SelectorConfig { return SelectorConfig{Logger: zap.NewNop()} }

// Candidate is the member a traversal picked on one ring.
type Candidate struct {
	Member member.Member
	Ring   int
}

// Destination is where the next round goes. Link is nil when the ring had no eligible
// peer or the connection could not be opened; callers skip such rounds. Member is
// the zero value when the ring had no eligible peer.
type Destination struct {
	Member member.Member
	Link   transport.Link
	Ring   int
}

// Selector hands out one destination per ring in a random order, starting a new
// shuffled traversal once every ring of the current one has been visited.
type Selector struct {
	SelectorConfig
	L         *zap.SugaredLogger
	mu        sync.Mutex
	traversal []Candidate
	current   int
}

func NewSelector(cfg SelectorConfig) (*Selector, error) {
	cfg = cfg.Merge(DefaultSelectorConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{SelectorConfig: cfg, L: cfg.Logger.Sugar(), current: -1}, nil
}

// Next returns the destination for the next ring of the traversal around d.
func (s *Selector) Next(d digest.Digest) Destination {
	s.mu.Lock()
	if len(s.traversal) == 0 || s.current >= len(s.traversal)-1 {
		s.traversal = s.Traverse(d)
		rand.Shuffle(len(s.traversal), func(i, j int) {
			s.traversal[i], s.traversal[j] = s.traversal[j], s.traversal[i]
		})
		s.current = -1
	}
	s.current++
	c := s.traversal[s.current]
	s.mu.Unlock()
	return s.linkFor(c)
}

// Iteration returns the traversal index of the last destination handed out, or -1
// before the first.
func (s *Selector) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traversal = nil
	s.current = -1
}

// Traverse picks one candidate per ring around d, in ring order. A ring with no
// eligible member contributes the local member.
func (s *Selector) Traverse(d digest.Digest) []Candidate {
	rings := s.View.Rings()
	chosen := make(map[member.ID]struct{}, len(rings))
	out := make([]Candidate, 0, len(rings))
	for _, r := range rings {
		pred := func(m member.Member) member.IterateResult {
			if s.IgnoreSelf && m.ID == s.Self.ID {
				return member.Continue
			}
			if !s.View.IsActive(m.ID) {
				return member.Continue
			}
			if s.NoDuplicates {
				if _, dup := chosen[m.ID]; dup {
					return member.Continue
				}
			}
			return member.Success
		}
		var (
			m  member.Member
			ok bool
		)
		if s.Direction == Predecessor {
			m, ok = r.FindPredecessor(d, pred)
		} else {
			m, ok = r.FindSuccessor(d, pred)
		}
		if ok {
			chosen[m.ID] = struct{}{}
		} else {
			m = s.Self
		}
		out = append(out, Candidate{Member: m, Ring: r.Index()})
	}
	if len(out) != s.View.RingCount() {
		panic(errors.AssertionFailedf("traversal has %d entries for %d rings", len(out), s.View.RingCount()))
	}
	return out
}

func (s *Selector) linkFor(c Candidate) Destination {
	if c.Member.ID == s.Self.ID {
		return Destination{Ring: c.Ring}
	}
	link, err := s.Transport.Connect(s.View.ID(), c.Member)
	if err != nil {
		s.L.Debugw("unable to connect", "member", c.Member.String(), "ring", c.Ring, "error", err)
		return Destination{Member: c.Member, Ring: c.Ring}
	}
	return Destination{Member: c.Member, Link: link, Ring: c.Ring}
}
