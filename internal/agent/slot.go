// internal/agent/slot.go
package agent

import (
	"sync/atomic"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

type slotEntry struct {
	intent     schemas.IntentType
	generation uint64
}

// IntentSlot hands decided intents from the worker to the tick loop. It holds
// at most one intent; a newer Put overwrites an undrained one.
type IntentSlot struct {
	p atomic.Pointer[slotEntry]
}

// Put stores intent, tagged with the mode generation it was decided under.
func (s *IntentSlot) Put(intent schemas.IntentType, generation uint64) {
	s.p.Store(&slotEntry{intent: intent, generation: generation})
}

// Take drains the slot. An intent decided under a different generation is
// discarded and reported as absent.
func (s *IntentSlot) Take(generation uint64) (schemas.IntentType, bool) {
	e := s.p.Swap(nil)
	if e == nil || e.generation != generation {
		return "", false
	}
	return e.intent, true
}

// Clear empties the slot.
func (s *IntentSlot) Clear() {
	s.p.Store(nil)
}

// Pending reports whether an intent is waiting.
func (s *IntentSlot) Pending() bool {
	return s.p.Load() != nil
}
