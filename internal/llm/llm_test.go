package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
)

type stubChatClient struct {
	response openai.ChatCompletionResponse
	err      error
	lastReq  openai.ChatCompletionRequest
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.response, s.err
}

func TestOpenAIClient_Complete(t *testing.T) {
	stub := &stubChatClient{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  {\"kind\":\"MORE\"} "}}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client := NewOpenAIClient(stub, "")

	resp, err := client.Complete(context.Background(), Request{
		System:      []string{"clasificá"},
		Messages:    []Message{{Role: RoleUser, Content: "mas"}},
		MaxTokens:   220,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"kind":"MORE"}` {
		t.Fatalf("expected trimmed text, got %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected usage to be copied, got %+v", resp.Usage)
	}
	if stub.lastReq.Model != "gpt-4.1" {
		t.Fatalf("expected default model, got %s", stub.lastReq.Model)
	}
	if len(stub.lastReq.Messages) != 2 || stub.lastReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected system + user messages, got %#v", stub.lastReq.Messages)
	}
	if stub.lastReq.MaxTokens != 220 {
		t.Fatalf("expected max tokens 220, got %d", stub.lastReq.MaxTokens)
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	client := NewOpenAIClient(&stubChatClient{}, "gpt-4.1")
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hola"}}}); err == nil {
		t.Fatalf("expected error when no choices are returned")
	}
}

type stubConverse struct {
	out     *bedrockruntime.ConverseOutput
	err     error
	lastReq *bedrockruntime.ConverseInput
}

func (s *stubConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastReq = in
	return s.out, s.err
}

func TestBedrockClient_Complete(t *testing.T) {
	stub := &stubConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "ok"}},
		}},
		Usage: &brtypes.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(1), TotalTokens: aws.Int32(4)},
	}}
	client := NewBedrockClient(stub, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), Request{
		System:   []string{"sys"},
		Messages: []Message{{Role: RoleSystem, Content: "extra"}, {Role: RoleUser, Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || resp.Usage.TotalTokens != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(stub.lastReq.System) != 2 || len(stub.lastReq.Messages) != 1 {
		t.Fatalf("expected system prompts folded, got %d system / %d messages", len(stub.lastReq.System), len(stub.lastReq.Messages))
	}
	if aws.ToString(stub.lastReq.ModelId) != "anthropic.claude-3-haiku" {
		t.Fatalf("unexpected model id %s", aws.ToString(stub.lastReq.ModelId))
	}
}

func TestBedrockClient_RejectsUnknownRole(t *testing.T) {
	client := NewBedrockClient(&stubConverse{}, "model")
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatalf("expected error for unsupported role")
	}
}

type staticClient struct {
	resp  Response
	err   error
	calls int
}

func (s *staticClient) Complete(context.Context, Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestFallbackClient(t *testing.T) {
	primary := &staticClient{err: errors.New("boom")}
	fallback := &staticClient{resp: Response{Text: "from fallback"}}

	resp, err := NewFallbackClient(primary, fallback, nil).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from fallback" || fallback.calls != 1 {
		t.Fatalf("expected fallback to answer, got %+v (calls=%d)", resp, fallback.calls)
	}

	healthy := &staticClient{resp: Response{Text: "primary"}}
	unused := &staticClient{}
	if resp, _ := NewFallbackClient(healthy, unused, nil).Complete(context.Background(), Request{}); resp.Text != "primary" || unused.calls != 0 {
		t.Fatalf("fallback must not run when primary succeeds")
	}

	if _, err := NewFallbackClient(primary, nil, nil).Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected primary error without fallback")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), ProviderConfig{Provider: "none"}, nil); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := New(context.Background(), ProviderConfig{Provider: "openai"}, nil); err == nil {
		t.Fatalf("expected error without an api key")
	}
	if _, err := New(context.Background(), ProviderConfig{Provider: "mystery"}, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}

	client, err := New(context.Background(), ProviderConfig{
		Provider:       "openai",
		Fallback:       "bedrock",
		OpenAIAPIKey:   "sk-test",
		Bedrock:        &stubConverse{},
		BedrockModelID: "model",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*FallbackClient); !ok {
		t.Fatalf("expected fallback wrapper, got %T", client)
	}
}
