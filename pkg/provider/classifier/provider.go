// Package classifier defines the Provider interface for single-shot command
// classifiers.
//
// A classifier receives one finished window of microphone audio and returns a
// [types.TranscriptionResult]: what was clearly said, plus exactly one
// structured [types.Task]. Ambient noise, music and unclear audio must yield an
// empty transcription and [types.KindNone].
//
// Implementations must be safe for concurrent use; the command sampler issues
// one call per window without waiting for earlier calls to finish.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/atlas/pkg/types"
)

// ErrInvalidFormat is returned when the remote response is not a valid result
// object.
var ErrInvalidFormat = errors.New("classifier: invalid response format")

// Audio is one encoded audio window.
type Audio struct {
	// Data is the encoded audio container (for example a WAV file).
	Data []byte

	// MIMEType describes Data, e.g. "audio/wav".
	MIMEType string
}

// Provider is the abstraction over any remote command classifier.
type Provider interface {
	// Classify transcribes audio and extracts one task from it.
	Classify(ctx context.Context, a Audio) (types.TranscriptionResult, error)
}

// ParseResult decodes and validates a raw JSON result. The transcription must
// be a string and task.type one of the recognised kinds. Markdown code fences
// around the object are tolerated.
func ParseResult(raw string) (types.TranscriptionResult, error) {
	raw = stripFence(raw)

	var wire struct {
		Transcription *string `json:"transcription"`
		Task          *struct {
			Type    *string       `json:"type"`
			Payload types.Payload `json:"payload"`
		} `json:"task"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if wire.Transcription == nil {
		return types.TranscriptionResult{}, fmt.Errorf("%w: missing transcription", ErrInvalidFormat)
	}
	if wire.Task == nil || wire.Task.Type == nil {
		return types.TranscriptionResult{}, fmt.Errorf("%w: missing task type", ErrInvalidFormat)
	}
	kind, ok := types.ParseKind(*wire.Task.Type)
	if !ok {
		return types.TranscriptionResult{}, fmt.Errorf("%w: unknown task type %q", ErrInvalidFormat, *wire.Task.Type)
	}

	return types.TranscriptionResult{
		Transcription: strings.TrimSpace(*wire.Transcription),
		Task:          types.Task{Kind: kind, Payload: wire.Task.Payload},
	}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
