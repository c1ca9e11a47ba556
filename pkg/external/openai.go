package external

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/triage-intake-server/internal/domain"
)

// defaultModel is used when no model is configured.
const defaultModel = "gpt-4o-mini"

// OpenAIConfig contains configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	RateLimit int
}

// OpenAIClient implements domain.TextGenerator against the OpenAI chat
// completion API. Calls are rate limited client-side and carry a per-call
// timeout so a slow upstream can never stall a dialogue turn indefinitely.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewOpenAIClient creates a new OpenAI API client.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10 // requests per second
	}

	return &OpenAIClient{
		client:  openai.NewClient(config.APIKey),
		model:   config.Model,
		timeout: config.Timeout,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
	}
}

// Generate produces free text from a system prompt and conversation history.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt string, messages []domain.Message, maxTokens int, temperature float32) (string, error) {
	resp, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    buildMessages(systemPrompt, messages),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// GenerateJSON produces a single JSON object using the API's JSON output
// mode. The prompt itself must describe the expected schema.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) ([]byte, error) {
	resp, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, err
	}
	return []byte(resp), nil
}

// complete runs one chat completion under the rate limiter and call timeout.
func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages converts conversation history into API messages with the
// system prompt first.
func buildMessages(systemPrompt string, messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
