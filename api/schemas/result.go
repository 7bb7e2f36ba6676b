package schemas

// -- Execution Results --

// ExecutionStatus is the coarse outcome of actuating one intent.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFailure ExecutionStatus = "FAILURE"
)

// FailureReason explains why an intent could not be fully actuated.
type FailureReason string

const (
	FailureNone              FailureReason = "NONE"
	FailureCooldown          FailureReason = "COOLDOWN"
	FailureBlocked           FailureReason = "BLOCKED"
	FailureInvalidState      FailureReason = "INVALID_STATE"
	FailureResourceExhausted FailureReason = "RESOURCE_EXHAUSTED"
	FailureUnknown           FailureReason = "UNKNOWN"
)

// ExecutionResult is what the actuator reports after applying an intent.
type ExecutionResult struct {
	Status           ExecutionStatus `json:"status"`
	FailureReason    FailureReason   `json:"failure_reason"`
	PartialExecution bool            `json:"partial_execution"`
	Logs             string          `json:"logs,omitempty"`
}

// Succeeded returns a full, unqualified success.
func Succeeded() ExecutionResult {
	return ExecutionResult{Status: StatusSuccess, FailureReason: FailureNone}
}

// Failed returns a failed result carrying reason and a short log line.
func Failed(reason FailureReason, logs string) ExecutionResult {
	return ExecutionResult{Status: StatusFailure, FailureReason: reason, Logs: logs}
}

// Partial returns a failure where part of the intent was still carried out.
func Partial(reason FailureReason, logs string) ExecutionResult {
	return ExecutionResult{Status: StatusFailure, FailureReason: reason, PartialExecution: true, Logs: logs}
}

// IsSuccess reports whether the intent was fully applied.
func (r ExecutionResult) IsSuccess() bool { return r.Status == StatusSuccess }

// SafetyFlags are derived from the failure reason so that the server does not
// have to know the reason vocabulary.
type SafetyFlags struct {
	IsBlocked          bool `json:"is_blocked"`
	OnCooldown         bool `json:"on_cooldown"`
	InvalidEnvironment bool `json:"invalid_environment"`
}

// SafetyFlags computes the flag block for r.
func (r ExecutionResult) SafetyFlags() SafetyFlags {
	return SafetyFlags{
		IsBlocked:          r.FailureReason == FailureBlocked,
		OnCooldown:         r.FailureReason == FailureCooldown,
		InvalidEnvironment: r.FailureReason == FailureInvalidState,
	}
}

// Outcomes summarise what happened to the actor since the last accepted request.
type Outcomes struct {
	DamageDealt    float64 `json:"damage_dealt"`
	DamageReceived float64 `json:"damage_received"`
	IsAlive        bool    `json:"is_alive"`
}

// ResultMetadata carries engine-side bookkeeping.
type ResultMetadata struct {
	// EngineTimestamp is the wall clock in Unix milliseconds when the report was built.
	EngineTimestamp int64 `json:"engine_timestamp"`
}

// ResultReport is the `result` block of a decision request: the previous tick's
// execution result folded together with the accumulated outcomes.
type ResultReport struct {
	Status           ExecutionStatus `json:"status"`
	FailureReason    FailureReason   `json:"failure_reason"`
	PartialExecution bool            `json:"partial_execution"`
	SafetyFlags      SafetyFlags     `json:"safety_flags"`
	Logs             string          `json:"logs"`
	Outcomes         Outcomes        `json:"outcomes"`
	Metadata         ResultMetadata  `json:"metadata"`
}

// NewResultReport folds an execution result and outcomes into a report.
func NewResultReport(res ExecutionResult, outcomes Outcomes, engineTimestamp int64) *ResultReport {
	return &ResultReport{
		Status:           res.Status,
		FailureReason:    res.FailureReason,
		PartialExecution: res.PartialExecution,
		SafetyFlags:      res.SafetyFlags(),
		Logs:             res.Logs,
		Outcomes:         outcomes,
		Metadata:         ResultMetadata{EngineTimestamp: engineTimestamp},
	}
}
