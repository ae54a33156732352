// Package types defines the shared command types used across Atlas packages.
//
// These types form the lingua franca between the classifier providers, the
// command sampler, the dispatcher and the control API. They live here to avoid
// circular imports between pkg/provider and internal packages.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the category of a detected voice command.
type Kind string

const (
	// KindNone means no actionable command was detected.
	KindNone Kind = "none"

	// KindOpenApp opens a named destination (streaming app or website).
	KindOpenApp Kind = "open_app"

	// KindTimer starts a deferred timer notification.
	KindTimer Kind = "timer"

	// KindEnvironmentControl controls a named device (lights, temperature).
	KindEnvironmentControl Kind = "environment_control"

	// KindServiceRequest is an information or service request such as viewing
	// a menu or ordering food.
	KindServiceRequest Kind = "service_request"
)

// kindAliases maps alternative wire spellings to their canonical kind.
var kindAliases = map[string]Kind{
	"open_destination": KindOpenApp,
}

// Kinds lists every recognised kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindNone, KindOpenApp, KindTimer, KindEnvironmentControl, KindServiceRequest}
}

// ParseKind normalises a wire kind string. The second result is false for
// unrecognised kinds.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k, ok := kindAliases[s]; ok {
		return k, true
	}
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return Kind(s), false
}

// Well-known payload keys.
const (
	KeyName        = "name"
	KeyDuration    = "duration"
	KeyDevice      = "device"
	KeyAction      = "action"
	KeyValue       = "value"
	KeyRequest     = "request"
	KeySearchQuery = "search_query"
	KeyQuery       = "query"
	KeyQuantity    = "quantity"
)

// Payload is the open key/value argument set of a Task.
type Payload map[string]string

// Get returns the trimmed value for key, or "" when absent.
func (p Payload) Get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

// UnmarshalJSON accepts any JSON scalar as a payload value. Numbers and
// booleans are stored in their textual form; null and nested values are
// dropped.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Payload, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			out[k] = n.String()
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			out[k] = strconv.FormatBool(b)
		}
	}
	*p = out
	return nil
}

// Task is one structured command extracted from a transcription.
type Task struct {
	Kind    Kind    `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

// String returns a compact human-readable representation.
func (t Task) String() string {
	if len(t.Payload) == 0 {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s%v", t.Kind, map[string]string(t.Payload))
}

// TranscriptionResult pairs the transcription of one audio window with the
// single task detected in it.
type TranscriptionResult struct {
	Transcription string `json:"transcription"`
	Task          Task   `json:"task"`
}
