package processmgr

import (
	"errors"
	"sync"
)

// ErrNoSlot is returned when every slot is taken.
var ErrNoSlot = errors.New("no free slot")

// errSlotHeld is returned when an owner asks for a second slot.
var errSlotHeld = errors.New("owner already holds a slot")

// slotPool is an adjustable counting semaphore with named owners. Each stream
// holds at most one slot, and the owner table makes leaks visible.
type slotPool struct {
	mu         sync.Mutex
	maxCap     int
	acquiredBy map[string]struct{}
}

func newSlotPool(max int) *slotPool {
	return &slotPool{
		maxCap:     max,
		acquiredBy: make(map[string]struct{}),
	}
}

// tryAcquire takes a slot for owner without blocking.
func (s *slotPool) tryAcquire(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, holds := s.acquiredBy[owner]; holds {
		return errSlotHeld
	}
	if len(s.acquiredBy) >= s.maxCap {
		return ErrNoSlot
	}
	s.acquiredBy[owner] = struct{}{}
	return nil
}

// release frees owner's slot. Releasing without holding is a no-op.
func (s *slotPool) release(owner string) {
	s.mu.Lock()
	delete(s.acquiredBy, owner)
	s.mu.Unlock()
}

// listAcquired returns the current owners.
func (s *slotPool) listAcquired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.acquiredBy))
	for owner := range s.acquiredBy {
		out = append(out, owner)
	}
	return out
}

// updateLimit changes the capacity. Existing holders keep their slots even
// when the new limit is lower; new acquisitions wait for the count to drop.
func (s *slotPool) updateLimit(newCap int) {
	if newCap < 0 {
		newCap = 0
	}
	s.mu.Lock()
	s.maxCap = newCap
	s.mu.Unlock()
}

func (s *slotPool) capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxCap
}

func (s *slotPool) current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acquiredBy)
}
