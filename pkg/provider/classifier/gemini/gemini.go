// Package gemini implements classifier.Provider on the Gemini GenerateContent
// API. The audio window is sent inline next to a fixed system instruction and
// the model is constrained to a JSON response schema.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/types"
)

var _ classifier.Provider = (*Provider)(nil)

const defaultModel = "gemini-2.5-flash"

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model        string
	baseURL      string
	instructions string
}

// WithModel sets the Gemini model. Default: gemini-2.5-flash.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithInstructions replaces the default [classifier.Instructions].
func WithInstructions(text string) Option {
	return func(c *config) { c.instructions = text }
}

// Provider classifies audio windows with Gemini.
type Provider struct {
	client       *genai.Client
	model        string
	instructions string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini classifier: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, instructions: classifier.Instructions}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini classifier: new client: %w", err)
	}
	return &Provider{client: client, model: cfg.model, instructions: cfg.instructions}, nil
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, a classifier.Audio) (types.TranscriptionResult, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromBytes(a.Data, a.MIMEType)},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(p.instructions)}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    resultSchema(),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("gemini classifier: generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("gemini classifier: %w: no candidates", classifier.ErrInvalidFormat)
	}

	res, err := classifier.ParseResult(resp.Text())
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("gemini classifier: %w", err)
	}
	return res, nil
}

func resultSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transcription": str("The English transcription of the audio."),
			"task": {
				Type:        genai.TypeObject,
				Description: "The detected command.",
				Properties: map[string]*genai.Schema{
					"type": {
						Type:        genai.TypeString,
						Description: "The command category.",
						Enum: []string{
							string(types.KindNone),
							string(types.KindOpenApp),
							string(types.KindTimer),
							string(types.KindEnvironmentControl),
							string(types.KindServiceRequest),
						},
					},
					"payload": {
						Type:        genai.TypeObject,
						Description: "Command-specific arguments.",
						Properties: map[string]*genai.Schema{
							types.KeyName:        str("Name of the app or item."),
							types.KeyDuration:    str("Duration for a timer."),
							types.KeyDevice:      str("Device for environment control."),
							types.KeyAction:      str("Action for environment control."),
							types.KeyValue:       str("Value for an action, e.g. a scene name."),
							types.KeyRequest:     str("The specific service request."),
							types.KeySearchQuery: str("Search query for content within apps."),
							types.KeyQuery:       str("Alternative search query field."),
							types.KeyQuantity:    str("Quantity for an order."),
						},
					},
				},
				Required: []string{"type"},
			},
		},
		Required: []string{"transcription", "task"},
	}
}
