// internal/humanoid/detector.go
package humanoid

import "github.com/xkilldash9x/ctlbridge/api/schemas"

// Detector infers the operator's intent from the keyboard. It only reads.
type Detector struct {
	kb *Keyboard
}

// NewDetector returns a detector reading kb.
func NewDetector(kb *Keyboard) *Detector {
	return &Detector{kb: kb}
}

// Detect maps held keys to an intent. Attack wins over use, use over jump,
// jump over movement.
func (d *Detector) Detect() schemas.IntentType {
	switch {
	case d.kb.IsDown(KeyAttack):
		return schemas.IntentPrimaryAttack
	case d.kb.IsDown(KeyUse):
		return schemas.IntentHold
	case d.kb.IsDown(KeyJump):
		return schemas.IntentJump
	case d.kb.AnyMovement():
		return schemas.IntentMove
	default:
		return schemas.IntentStop
	}
}
