// internal/agent/mode.go
package agent

import (
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// ModeHook observes every mode mutation, including ones that leave the mode
// unchanged.
type ModeHook func(prev, next schemas.ControlMode)

// ModeState is the shared control-mode flag. Mode and a mutation counter are
// packed into one atomic word so readers always see a consistent pair: bit 0 is
// the mode (0 HUMAN, 1 AI) and the remaining bits count mutations.
type ModeState struct {
	word atomic.Uint64

	hooksMu sync.Mutex
	hooks   []ModeHook
}

// NewModeState returns a state starting in HUMAN mode.
func NewModeState() *ModeState {
	return &ModeState{}
}

func pack(mode schemas.ControlMode, generation uint64) uint64 {
	w := generation << 1
	if mode == schemas.ModeAI {
		w |= 1
	}
	return w
}

func unpack(w uint64) (schemas.ControlMode, uint64) {
	if w&1 == 1 {
		return schemas.ModeAI, w >> 1
	}
	return schemas.ModeHuman, w >> 1
}

// Get returns the current mode.
func (s *ModeState) Get() schemas.ControlMode {
	m, _ := unpack(s.word.Load())
	return m
}

// Load returns the current mode and its generation. The generation changes on
// every mutation.
func (s *ModeState) Load() (schemas.ControlMode, uint64) {
	return unpack(s.word.Load())
}

// OnChange registers h to run after every mutation.
func (s *ModeState) OnChange(h ModeHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Set stores mode and returns the previous one. Unknown modes are treated as
// HUMAN.
func (s *ModeState) Set(mode schemas.ControlMode) schemas.ControlMode {
	if mode != schemas.ModeAI {
		mode = schemas.ModeHuman
	}
	prev := s.mutate(func(schemas.ControlMode) schemas.ControlMode { return mode })
	s.notify(prev, mode)
	return prev
}

// Toggle flips the mode and returns the new one.
func (s *ModeState) Toggle() schemas.ControlMode {
	var next schemas.ControlMode
	prev := s.mutate(func(cur schemas.ControlMode) schemas.ControlMode {
		if cur == schemas.ModeAI {
			next = schemas.ModeHuman
		} else {
			next = schemas.ModeAI
		}
		return next
	})
	s.notify(prev, next)
	return next
}

// ForceHuman is the fail-safe path. It reports whether AI had control.
func (s *ModeState) ForceHuman() bool {
	return s.Set(schemas.ModeHuman) == schemas.ModeAI
}

func (s *ModeState) mutate(next func(schemas.ControlMode) schemas.ControlMode) schemas.ControlMode {
	for {
		old := s.word.Load()
		cur, gen := unpack(old)
		if s.word.CompareAndSwap(old, pack(next(cur), gen+1)) {
			return cur
		}
	}
}

func (s *ModeState) notify(prev, next schemas.ControlMode) {
	s.hooksMu.Lock()
	hooks := make([]ModeHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.Unlock()

	for _, h := range hooks {
		h(prev, next)
	}
}
