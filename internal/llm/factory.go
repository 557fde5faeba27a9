package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// ProviderConfig selects and configures the reasoning providers.
type ProviderConfig struct {
	Provider       string
	Fallback       string
	OpenAIAPIKey   string
	OpenAIModel    string
	GeminiAPIKey   string
	GeminiModel    string
	BedrockModelID string
	// Bedrock is required when either provider is "bedrock".
	Bedrock ConverseAPI
}

// New builds the configured client, wrapped with a fallback when one is
// named. It returns ErrNoProvider when the provider is empty or "none".
func New(ctx context.Context, cfg ProviderConfig, logger *logging.Logger) (Client, error) {
	primaryName := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if primaryName == "" || primaryName == "none" {
		return nil, ErrNoProvider
	}
	primary, err := build(ctx, primaryName, cfg)
	if err != nil {
		return nil, err
	}

	fallbackName := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if fallbackName == "" || fallbackName == "none" || fallbackName == primaryName {
		return primary, nil
	}
	fallback, err := build(ctx, fallbackName, cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("llm fallback provider unavailable", "provider", fallbackName, "error", err)
		}
		return primary, nil
	}
	return NewFallbackClient(primary, fallback, logger), nil
}

func build(ctx context.Context, name string, cfg ProviderConfig) (Client, error) {
	switch name {
	case "openai":
		return NewOpenAIClientFromKey(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case "gemini":
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "bedrock":
		if cfg.Bedrock == nil {
			return nil, fmt.Errorf("llm: bedrock provider needs a runtime client")
		}
		return NewBedrockClient(cfg.Bedrock, cfg.BedrockModelID), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", name)
}
