package bedrockrouter

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one inbound queue record. Body carries the JSON envelope
// {app_name?, request?, session_id?}.
type Record struct {
	Body string `json:"body"`
}

// inboundMessage is the decoded record envelope. Request stays raw so a
// malformed value can be coerced to an empty payload instead of failing
// the record. AppName and SessionID are pointers so an explicitly empty
// field is distinguishable from an absent one: only absence gets a
// default, an explicit "" flows into validation and is rejected there.
type inboundMessage struct {
	AppName   *string         `json:"app_name"`
	Request   json.RawMessage `json:"request"`
	SessionID *string         `json:"session_id"`
}

// normalizedRequest is what the processing pipeline works with after the
// envelope's loose fields have been defaulted and resolved.
type normalizedRequest struct {
	appName   string
	sessionID string
	inputText string
	payload   map[string]any
}

// normalize applies the envelope defaults: an absent app_name falls back
// to "default", a missing or non-object request becomes an empty payload,
// and an absent session_id falls back to a time-derived placeholder.
// The input text is resolved from the payload's input, query and prompt
// fields: the first truthy value present is selected, and a selected
// non-string never falls through to the next field; it leaves the input
// empty so validation rejects it.
func (m inboundMessage) normalize(now func() time.Time) normalizedRequest {
	n := normalizedRequest{
		payload: map[string]any{},
	}
	n.appName = "default"
	if m.AppName != nil {
		n.appName = *m.AppName
	}
	n.sessionID = fmt.Sprintf("session-%d", now().Unix())
	if m.SessionID != nil {
		n.sessionID = *m.SessionID
	}
	if len(m.Request) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(m.Request, &payload); err == nil && payload != nil {
			n.payload = payload
		}
	}
	for _, field := range []string{"input", "query", "prompt"} {
		v, ok := n.payload[field]
		if !ok || !truthy(v) {
			continue
		}
		if s, ok := v.(string); ok {
			n.inputText = s
		}
		break
	}
	return n
}

// truthy reports whether a decoded JSON value is non-empty and non-zero.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
