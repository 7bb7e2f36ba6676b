// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// DecisionClient performs exchanges with the decision server. Implementations
// fold every failure into the returned Response and may block up to their own
// timeouts; the orchestrator only ever calls them from its worker.
type DecisionClient interface {
	NextIntent(ctx context.Context, req *schemas.DecisionRequest) schemas.Response
	SendControlMode(ctx context.Context, mode schemas.ControlMode) bool
}

// Sensor produces the observation for the current tick.
type Sensor interface {
	Observe(ctx context.Context) (schemas.Observation, error)
}

// Actuator turns intents into in-world input.
type Actuator interface {
	Execute(ctx context.Context, intent schemas.IntentType) (schemas.ExecutionResult, error)
	// ReleaseAllInputs lets go of every input the actuator or the operator holds.
	ReleaseAllInputs()
}

// HumanDetector infers what the operator is doing from raw input. It must not
// mutate any input state.
type HumanDetector interface {
	Detect() schemas.IntentType
}
