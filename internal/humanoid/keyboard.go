// internal/humanoid/keyboard.go
package humanoid

import "sync/atomic"

// Key is a logical input the actor responds to.
type Key int

const (
	KeyForward Key = iota
	KeyBack
	KeyLeft
	KeyRight
	KeyJump
	KeySneak
	KeySprint
	KeyAttack
	KeyUse
	keyCount
)

var keyNames = [keyCount]string{
	KeyForward: "forward",
	KeyBack:    "back",
	KeyLeft:    "left",
	KeyRight:   "right",
	KeyJump:    "jump",
	KeySneak:   "sneak",
	KeySprint:  "sprint",
	KeyAttack:  "attack",
	KeyUse:     "use",
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if k < 0 || k >= keyCount {
		return "unknown"
	}
	return keyNames[k]
}

// ParseKey resolves a key by name.
func ParseKey(name string) (Key, bool) {
	for k, n := range keyNames {
		if n == name {
			return Key(k), true
		}
	}
	return 0, false
}

// movementKeys are the directional inputs.
var movementKeys = []Key{KeyForward, KeyBack, KeyLeft, KeyRight}

// Keyboard is the input state shared by the operator, the human intent
// detector and the actuator. Each key is an independent atomic flag.
type Keyboard struct {
	down [keyCount]atomic.Bool
}

// NewKeyboard returns a keyboard with every key up.
func NewKeyboard() *Keyboard {
	return &Keyboard{}
}

// Set presses or releases k. Unknown keys are ignored.
func (kb *Keyboard) Set(k Key, down bool) {
	if k < 0 || k >= keyCount {
		return
	}
	kb.down[k].Store(down)
}

// Press holds k down.
func (kb *Keyboard) Press(k Key) { kb.Set(k, true) }

// Release lets go of every key in keys.
func (kb *Keyboard) Release(keys ...Key) {
	for _, k := range keys {
		kb.Set(k, false)
	}
}

// IsDown reports whether k is held.
func (kb *Keyboard) IsDown(k Key) bool {
	if k < 0 || k >= keyCount {
		return false
	}
	return kb.down[k].Load()
}

// AnyMovement reports whether any directional key is held.
func (kb *Keyboard) AnyMovement() bool {
	for _, k := range movementKeys {
		if kb.IsDown(k) {
			return true
		}
	}
	return false
}

// ReleaseAll lets go of every key.
func (kb *Keyboard) ReleaseAll() {
	for k := range kb.down {
		kb.down[k].Store(false)
	}
}

// Held returns the keys currently down, in declaration order.
func (kb *Keyboard) Held() []Key {
	var held []Key
	for k := Key(0); k < keyCount; k++ {
		if kb.IsDown(k) {
			held = append(held, k)
		}
	}
	return held
}
