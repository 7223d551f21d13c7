package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// ProviderParams configures a completion provider client.
type ProviderParams struct {
	BaseURL string
	APIKey  string
	Keys    KeySource
}

// ProviderOption mutates provider construction parameters.
type ProviderOption func(*ProviderParams)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) { p.BaseURL = baseURL }
}

// WithAPIKey supplies an explicit API key.
func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) { p.APIKey = apiKey }
}

// WithKeySource supplies a key store consulted when no explicit key is set.
func WithKeySource(keys KeySource) ProviderOption {
	return func(p *ProviderParams) { p.Keys = keys }
}

func resolveKey(params ProviderParams, name, envVar string) string {
	if params.APIKey != "" {
		return params.APIKey
	}
	if params.Keys != nil {
		if key, err := params.Keys.Get(name); err == nil && key != "" {
			return key
		}
	}
	return os.Getenv(envVar)
}

// OpenAIProvider backs LLM policies with OpenAI chat completions.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAI builds an OpenAI provider. The key is resolved from the explicit
// option, then the key source, then OPENAI_API_KEY.
func NewOpenAI(ctx context.Context, opts ...ProviderOption) (*OpenAIProvider, error) {
	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = "https://api.openai.com/v1/"
		}
	}
	apiKey := resolveKey(params, "openai", "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("policy: no OpenAI API key configured")
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(params.BaseURL),
	)
	return &OpenAIProvider{client: client}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(model),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("policy: empty completion response")
	}
	return completion.Choices[0].Message.Content, nil
}

// GeminiProvider backs LLM policies with Google Gemini.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini builds a Gemini provider. The key is resolved from the explicit
// option, then the key source, then GEMINI_API_KEY.
func NewGemini(ctx context.Context, opts ...ProviderOption) (*GeminiProvider, error) {
	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	apiKey := resolveKey(params, "gemini", "GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("policy: no Gemini API key configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("policy: gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	result, err := p.client.Models.GenerateContent(ctx, model, []*genai.Content{{Parts: parts}}, nil)
	if err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil ||
		len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("policy: empty Gemini response")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
