// Package window implements a bounded set of recently seen digests that forgets its
// oldest entries in whole epochs.
package window

import (
	"sync"

	"github.com/arya-analytics/rbc/internal/digest"
)

// DefaultEpochs is the number of epochs a Window retains.
const DefaultEpochs = 3

// Window is a set of digests split across a fixed number of epochs. New digests land
// in the current epoch; when it fills, the oldest epoch is dropped and a new empty
// one becomes current. A Window holds at most capacity*epochs digests.
type Window struct {
	mu       sync.Mutex
	capacity int
	epochs   []map[digest.Digest]struct{}
}

func New(capacity, epochs int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	if epochs < 1 {
		epochs = DefaultEpochs
	}
	w := &Window{capacity: capacity, epochs: make([]map[digest.Digest]struct{}, epochs)}
	for i := range w.epochs {
		w.epochs[i] = make(map[digest.Digest]struct{}, capacity)
	}
	return w
}

// Add records d and returns true if it was not already present in any epoch.
func (w *Window) Add(d digest.Digest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.containsLocked(d) {
		return false
	}
	cur := w.epochs[len(w.epochs)-1]
	if len(cur) >= w.capacity {
		w.rotateLocked()
		cur = w.epochs[len(w.epochs)-1]
	}
	cur[d] = struct{}{}
	return true
}

func (w *Window) Contains(d digest.Digest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.containsLocked(d)
}

func (w *Window) Len() (n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.epochs {
		n += len(e)
	}
	return n
}

func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.epochs {
		w.epochs[i] = make(map[digest.Digest]struct{}, w.capacity)
	}
}

func (w *Window) containsLocked(d digest.Digest) bool {
	for i := len(w.epochs) - 1; i >= 0; i-- {
		if _, ok := w.epochs[i][d]; ok {
			return true
		}
	}
	return false
}

func (w *Window) rotateLocked() {
	copy(w.epochs, w.epochs[1:])
	w.epochs[len(w.epochs)-1] = make(map[digest.Digest]struct{}, w.capacity)
}
