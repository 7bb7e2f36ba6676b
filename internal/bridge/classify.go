package bridge

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

var wire = json.ConfigCompatibleWithStandardLibrary

var jsonNull = []byte("null")

// classifyDecision maps one non-empty reply line to a Response. The checks run
// in a fixed order and the first one that matches wins.
func classifyDecision(line []byte) schemas.Response {
	line = bytes.TrimSpace(line)
	if bytes.Equal(line, jsonNull) {
		return schemas.Failure(TagNullJSON)
	}

	var fields map[string]json.RawMessage
	if err := wire.Unmarshal(line, &fields); err != nil {
		return schemas.Failure(TagInvalidJSON)
	}
	if fields == nil {
		return schemas.Failure(TagNullJSON)
	}

	if status, ok := scalarField(fields, "status"); ok && status == statusError {
		msg, ok := scalarField(fields, "error")
		if !ok {
			msg = defaultServerError
		}
		return schemas.Failure(withDetail(TagServerError, msg))
	}

	rawIntent, ok := fields["intent"]
	if !ok || isNull(rawIntent) {
		return schemas.Failure(withDetail(TagMalformed, "Missing 'intent'"))
	}

	name, ok := scalarText(rawIntent)
	if !ok {
		return schemas.Failure(TagIntentParseFailure)
	}
	intent, err := schemas.ParseIntent(name)
	if err != nil {
		return schemas.Failure(TagIntentParseFailure)
	}

	confidence := schemas.DefaultConfidence
	if rawConf, ok := fields["confidence"]; ok && !isNull(rawConf) {
		if confidence, ok = scalarNumber(rawConf); !ok {
			return schemas.Failure(TagIntentParseFailure)
		}
	}
	return schemas.Decided(intent, confidence)
}

// scalarField returns the text of fields[key] when it is present and a JSON
// scalar.
func scalarField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	return scalarText(raw)
}

// scalarText renders a JSON string, number or boolean as text. Numbers and
// booleans keep their literal spelling, so {"error":5} reads as "5".
func scalarText(raw json.RawMessage) (string, bool) {
	var v any
	if err := wire.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64, bool:
		return string(bytes.TrimSpace(raw)), true
	default:
		return "", false
	}
}

// scalarNumber accepts a JSON number or a string holding one. Values that
// cannot be sent back as last_confidence are refused.
func scalarNumber(raw json.RawMessage) (float64, bool) {
	var v any
	if err := wire.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

// decodeStatus extracts the status of a heartbeat or control-mode reply.
func decodeStatus(line []byte) (string, error) {
	var reply statusReply
	if err := wire.Unmarshal(bytes.TrimSpace(line), &reply); err != nil {
		return "", err
	}
	return reply.Status, nil
}
