package bridge

// Wire message types. Every message is one JSON object on its own line.

const (
	typeHeartbeat   = "HEARTBEAT"
	typeControlMode = "CONTROL_MODE"

	statusOK      = "OK"
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"

	probeMarker = "go_handshake"
)

// probeMessage is written once per physical connection.
type probeMessage struct {
	Probe string `json:"_probe"`
	TS    int64  `json:"ts"`
}

type heartbeatMessage struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
}

type controlModeMessage struct {
	Type            string `json:"type"`
	Mode            string `json:"mode"`
	Source          string `json:"source"`
	ProtocolVersion int    `json:"protocol_version"`
}

// statusReply is the reply shape for heartbeat and control-mode messages.
type statusReply struct {
	Status string `json:"status"`
}

// Response tags. A failed exchange carries exactly one of them, optionally
// followed by ": <detail>".
const (
	TagCommunicationFailure = "COMMUNICATION_FAILURE"
	TagTimeout              = "TIMEOUT"
	TagEmptyResponse        = "EMPTY_RESPONSE"
	TagInvalidJSON          = "INVALID_JSON_RESPONSE"
	TagNullJSON             = "NULL_JSON_RESPONSE"
	TagServerError          = "SERVER_ERROR"
	TagMalformed            = "MALFORMED_RESPONSE"
	TagIntentParseFailure   = "INTENT_PARSE_FAILURE"
)

const defaultServerError = "Unknown server error"

func withDetail(tag, detail string) string {
	return tag + ": " + detail
}
