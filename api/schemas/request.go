package schemas

import (
	"errors"
	"fmt"
)

// ProtocolVersion is stamped on every outbound message.
const ProtocolVersion = 1

// Lineage constants identify this bridge as the origin of a request.
const (
	LineageSource      = "GO_BRIDGE"
	TrustBoundaryLocal = "TRUSTED_LOCAL"
)

// Validation failures. A request that fails validation is never sent.
var (
	ErrNilRequest         = errors.New("request is nil")
	ErrMissingState       = errors.New("state is missing")
	ErrNegativeHealth     = errors.New("state.health is negative")
	ErrMissingAuthority   = errors.New("authority is missing")
	ErrUnknownAuthority   = errors.New("authority is UNKNOWN")
	ErrMissingController  = errors.New("controller is missing")
	ErrMissingLineage     = errors.New("lineage is missing")
	ErrIncompleteLineage  = errors.New("lineage is incomplete")
	ErrValidationPanicked = errors.New("validation panicked")
)

// Lineage is audit metadata the server uses to decide whether a sample may be
// learned from.
type Lineage struct {
	Source            string    `json:"source"`
	TrustBoundary     string    `json:"trust_boundary"`
	LearningAllowed   bool      `json:"learning_allowed"`
	DecisionAuthority Authority `json:"decision_authority"`
}

// DecisionRequest is one outbound request for the next intent.
type DecisionRequest struct {
	ExperienceID    string         `json:"experience_id,omitempty"`
	State           *StateSnapshot `json:"state"`
	IntentTaken     IntentType     `json:"intent_taken"`
	Controller      ControlMode    `json:"controller,omitempty"`
	Authority       Authority      `json:"authority,omitempty"`
	PolicyAuthority string         `json:"policy_authority"`
	LastConfidence  float64        `json:"last_confidence"`
	Result          *ResultReport  `json:"result"`
	Lineage         *Lineage       `json:"lineage"`
	ProtocolVersion int            `json:"protocol_version"`
}

// Validate fails closed on a structurally unusable request. A panic during
// validation is reported as a rejection.
func (r *DecisionRequest) Validate() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrValidationPanicked, p)
		}
	}()

	if r == nil {
		return ErrNilRequest
	}
	if r.State == nil {
		return ErrMissingState
	}
	if r.State.Health < 0 {
		return ErrNegativeHealth
	}
	switch r.Authority {
	case "":
		return ErrMissingAuthority
	case AuthorityUnknown:
		return ErrUnknownAuthority
	}
	if r.Controller == "" {
		return ErrMissingController
	}
	if r.Lineage == nil {
		return ErrMissingLineage
	}
	if r.Lineage.Source == "" || r.Lineage.TrustBoundary == "" || r.Lineage.DecisionAuthority == "" {
		return ErrIncompleteLineage
	}
	return nil
}
