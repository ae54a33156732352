// Package openai implements classifier.Provider on the OpenAI API in two
// steps: the window is transcribed with the audio transcription endpoint, then
// a chat completion constrained to a JSON schema extracts the task from the
// transcript.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/types"
)

var _ classifier.Provider = (*Provider)(nil)

const (
	defaultModel    = "gpt-4o-mini"
	defaultSTTModel = "whisper-1"
)

// Provider classifies audio windows with OpenAI.
type Provider struct {
	client       oai.Client
	model        string
	sttModel     string
	instructions string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	model        string
	sttModel     string
	instructions string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the chat model used for task extraction.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTranscriptionModel sets the audio transcription model.
func WithTranscriptionModel(model string) Option {
	return func(c *config) { c.sttModel = model }
}

// WithInstructions replaces the default [classifier.Instructions].
func WithInstructions(text string) Option {
	return func(c *config) { c.instructions = text }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI classifier.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai classifier: apiKey must not be empty")
	}

	cfg := &config{
		model:        defaultModel,
		sttModel:     defaultSTTModel,
		instructions: classifier.Instructions,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		sttModel:     cfg.sttModel,
		instructions: cfg.instructions,
	}, nil
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, a classifier.Audio) (types.TranscriptionResult, error) {
	tr, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(a.Data), "window"+extension(a.MIMEType), a.MIMEType),
		Model:    oai.AudioModel(p.sttModel),
		Language: param.NewOpt("en"),
	})
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("openai classifier: transcribe: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return types.TranscriptionResult{Task: types.Task{Kind: types.KindNone}}, nil
	}

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(p.instructions),
			oai.UserMessage("Transcribed clip: " + text),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
				JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "transcription_result",
					Description: param.NewOpt("Transcription and detected command."),
					Schema:      resultSchema,
				},
			},
		},
	})
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("openai classifier: extract: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("openai classifier: %w: no choices", classifier.ErrInvalidFormat)
	}
	if r := resp.Choices[0].Message.Refusal; r != "" {
		return types.TranscriptionResult{}, fmt.Errorf("openai classifier: refused: %s", r)
	}

	res, err := classifier.ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("openai classifier: %w", err)
	}
	if res.Transcription == "" {
		res.Transcription = text
	}
	return res, nil
}

func extension(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	default:
		return ".wav"
	}
}

var resultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"transcription": map[string]any{"type": "string"},
		"task": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{
					"type": "string",
					"enum": []string{
						string(types.KindNone),
						string(types.KindOpenApp),
						string(types.KindTimer),
						string(types.KindEnvironmentControl),
						string(types.KindServiceRequest),
					},
				},
				"payload": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
			"required": []string{"type"},
		},
	},
	"required": []string{"transcription", "task"},
}
