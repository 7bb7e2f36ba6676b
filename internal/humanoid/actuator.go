// internal/humanoid/actuator.go
package humanoid

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// Body is the part of the actor the actuator drives directly rather than
// through the keyboard.
type Body interface {
	Alive() bool
	// AttackTarget swings at the current target and reports whether it landed.
	AttackTarget() bool
	// StepBack moves the actor away from where it is facing.
	StepBack()
}

// Actuator executes intents by driving the keyboard and the body. It applies
// an intent exactly as received.
type Actuator struct {
	kb     *Keyboard
	body   Body
	logger *zap.Logger
}

// NewActuator returns an actuator for body.
func NewActuator(kb *Keyboard, body Body, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actuator{kb: kb, body: body, logger: logger.Named("actuator")}
}

// Execute applies intent. Failures are reported in the result; the error
// return is reserved for the context being done.
func (a *Actuator) Execute(ctx context.Context, intent schemas.IntentType) (schemas.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Failed(schemas.FailureUnknown, "CONTEXT_DONE"), err
	}
	if a.body == nil || !a.body.Alive() {
		return schemas.Failed(schemas.FailureInvalidState, "NO_ACTOR"), nil
	}

	switch intent {
	case schemas.IntentPrimaryAttack:
		if a.body.AttackTarget() {
			return schemas.Succeeded(), nil
		}
		return schemas.Partial(schemas.FailureBlocked, "SWUNG_ONLY_NO_TARGET"), nil
	case schemas.IntentEvade:
		a.body.StepBack()
	case schemas.IntentMove:
		a.kb.Press(KeyForward)
	case schemas.IntentJump:
		a.kb.Press(KeyJump)
	case schemas.IntentHold:
		a.kb.Press(KeyUse)
	case schemas.IntentRelease:
		a.ReleaseAllInputs()
	case schemas.IntentStop:
		a.kb.Release(KeyForward, KeyBack, KeyLeft, KeyRight, KeyJump, KeyUse, KeyAttack)
	case schemas.IntentNoOp:
	case schemas.IntentSwitchItem, schemas.IntentPlaceBlock:
		a.logger.Debug("Intent not supported by this actuator.", zap.Stringer("intent", intent))
		return schemas.Failed(schemas.FailureInvalidState, "UNSUPPORTED_INTENT"), nil
	default:
		return schemas.Failed(schemas.FailureUnknown, "UNKNOWN_INTENT"), nil
	}
	return schemas.Succeeded(), nil
}

// ReleaseAllInputs lets go of every key.
func (a *Actuator) ReleaseAllInputs() {
	a.kb.ReleaseAll()
}
