package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini completes prompts against the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiOption configures the Gemini backend.
type GeminiOption func(*Gemini)

// WithGeminiModel overrides the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// NewGemini builds the backend.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	g := &Gemini{client: client, model: DefaultGeminiModel}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, g.Name(), func() error {
		var callErr error
		resp, callErr = g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("completion response has no candidates")
	}
	return candidateText(resp.Candidates[0]), nil
}

// candidateText joins the text parts of one candidate, skipping any
// non-text parts the model interleaves.
func candidateText(candidate *genai.Candidate) string {
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
