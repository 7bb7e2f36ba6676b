package schemas

import (
	"fmt"
	"strings"
)

// IntentType is a discrete action the actor may take. The set is closed; anything
// outside it is a parse failure.
type IntentType string

const (
	IntentPrimaryAttack IntentType = "PRIMARY_ATTACK" // Strike the current target.
	IntentEvade         IntentType = "EVADE"          // Step away from the current threat.
	IntentMove          IntentType = "MOVE"           // Move forward.
	IntentHold          IntentType = "HOLD"           // Hold the use action.
	IntentRelease       IntentType = "RELEASE"        // Release every held input.
	IntentStop          IntentType = "STOP"           // Release movement and action inputs.
	IntentJump          IntentType = "JUMP"
	IntentSwitchItem    IntentType = "SWITCH_ITEM"
	IntentPlaceBlock    IntentType = "PLACE_BLOCK"
	IntentNoOp          IntentType = "NO_OP" // Do nothing. Also the fallback on every failure path.
)

var knownIntents = map[IntentType]struct{}{
	IntentPrimaryAttack: {},
	IntentEvade:         {},
	IntentMove:          {},
	IntentHold:          {},
	IntentRelease:       {},
	IntentStop:          {},
	IntentJump:          {},
	IntentSwitchItem:    {},
	IntentPlaceBlock:    {},
	IntentNoOp:          {},
}

// String implements fmt.Stringer.
func (i IntentType) String() string { return string(i) }

// Valid reports whether i belongs to the closed enumeration.
func (i IntentType) Valid() bool {
	_, ok := knownIntents[i]
	return ok
}

// ParseIntent resolves a wire name to an IntentType. Matching ignores case
// only; padded names are unknown.
func ParseIntent(name string) (IntentType, error) {
	intent := IntentType(strings.ToUpper(name))
	if !intent.Valid() {
		return "", fmt.Errorf("unknown intent %q", name)
	}
	return intent, nil
}
