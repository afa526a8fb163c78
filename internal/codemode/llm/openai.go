package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI completes prompts against the OpenAI chat API or any
// OpenAI-compatible server reachable through a base-URL override
// (LiteLLM, Ollama, vLLM).
type OpenAI struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures the OpenAI backend.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   string
}

// WithOpenAIBaseURL points the client at an OpenAI-compatible server
// instead of api.openai.com.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIModel overrides the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// NewOpenAI builds the backend. An empty API key is replaced with a
// placeholder so local OpenAI-compatible servers, which ignore the key,
// still accept requests.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := openAIConfig{model: DefaultOpenAIModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	if apiKey == "" {
		apiKey = "dummy-key"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.model,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, o.Name(), func() error {
		var callErr error
		resp, callErr = o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: o.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		return callErr
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
