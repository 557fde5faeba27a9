package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/retail-chat-bot/internal/bot"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/llm"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// BuildReasoner wires the optional language model classifier. It returns nil
// when no provider is configured; the engine then relies on keyword rules.
func BuildReasoner(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*bot.Reasoner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	providerCfg := llm.ProviderConfig{
		Provider:       cfg.LLMProvider,
		Fallback:       cfg.LLMFallbackProvider,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIModel:    cfg.OpenAIModel,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		GeminiModel:    cfg.GeminiModel,
		BedrockModelID: cfg.BedrockModelID,
	}
	if cfg.LLMProvider == "bedrock" || cfg.LLMFallbackProvider == "bedrock" {
		providerCfg.Bedrock = bedrockruntime.NewFromConfig(awsCfg)
	}

	client, err := llm.New(ctx, providerCfg, logger)
	if errors.Is(err, llm.ErrNoProvider) {
		logger.Info("llm reasoning disabled; using keyword classification only")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build llm client: %w", err)
	}

	model := cfg.OpenAIModel
	switch cfg.LLMProvider {
	case "gemini":
		model = cfg.GeminiModel
	case "bedrock":
		model = cfg.BedrockModelID
	}
	logger.Info("llm reasoning enabled", "provider", cfg.LLMProvider, "fallback", cfg.LLMFallbackProvider, "model", model)
	return bot.NewReasoner(client, model, cfg.LLMTimeout, logger), nil
}
