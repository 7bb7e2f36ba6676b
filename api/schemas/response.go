package schemas

import "fmt"

// DefaultConfidence applies when a well-formed reply omits its confidence.
const DefaultConfidence = 1.0

// Response is the classified outcome of one decision exchange.
type Response struct {
	Intent     IntentType
	Confidence float64
	// ErrorMessage is empty on success and carries a failure tag otherwise.
	ErrorMessage string
}

// Decided builds a successful response.
func Decided(intent IntentType, confidence float64) Response {
	return Response{Intent: intent, Confidence: confidence}
}

// Failure builds the inert response returned for every failed exchange.
func Failure(tag string) Response {
	return Response{Intent: IntentNoOp, Confidence: 0, ErrorMessage: tag}
}

// IsSuccess holds iff an intent was decided and no error was recorded.
func (r Response) IsSuccess() bool {
	return r.Intent != "" && r.ErrorMessage == ""
}

// String implements fmt.Stringer.
func (r Response) String() string {
	if r.IsSuccess() {
		return fmt.Sprintf("%s (%.2f)", r.Intent, r.Confidence)
	}
	return fmt.Sprintf("%s (%.2f) %s", r.Intent, r.Confidence, r.ErrorMessage)
}
