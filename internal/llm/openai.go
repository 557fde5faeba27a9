package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var llmTracer = otel.Tracer("retailbot.internal.llm")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client with the chat completions API.
type OpenAIClient struct {
	client chatClient
	model  string
}

// NewOpenAIClient wraps a go-openai client. model is used when the request
// does not name one.
func NewOpenAIClient(client chatClient, model string) *OpenAIClient {
	if client == nil {
		panic("llm: openai client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1"
	}
	return &OpenAIClient{client: client, model: model}
}

// NewOpenAIClientFromKey builds the default HTTP client for apiKey.
func NewOpenAIClientFromKey(apiKey, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	return NewOpenAIClient(openai.NewClient(apiKey), model), nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := llmTracer.Start(ctx, "llm.openai")
	defer span.End()

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, s := range req.System {
		if strings.TrimSpace(s) != "" {
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
		}
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: int(req.MaxTokens),
	}
	if req.Temperature >= 0 {
		creq.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		creq.TopP = req.TopP
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("llm: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("llm: openai returned no choices")
		span.RecordError(err)
		return Response{}, err
	}
	span.SetAttributes(attribute.String("retailbot.llm.model", model))

	return Response{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		StopReason: string(resp.Choices[0].FinishReason),
		Provider:   "openai",
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}
