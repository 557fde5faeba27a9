package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/retail-chat-bot/cmd/mainconfig"
	"github.com/wolfman30/retail-chat-bot/internal/app/bootstrap"
	"github.com/wolfman30/retail-chat-bot/internal/bot"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var samples = []string{
	"hola, busco una ps5",
	"cuanto sale el iphone 15?",
	"tenes en cuotas sin interes?",
	"quiero comprarla, como pago?",
	"me pasas con alguien?",
	"mostrame mas",
	"algo para jugar que no pase los 500 mil",
	"no entendes nada!!!",
	"gracias",
	"stop",
}

// classify prints how the keyword classifiers and, when a provider is
// configured, the reasoner read a set of customer messages.
func main() {
	useModel := flag.Bool("llm", true, "also ask the configured LLM provider")
	flag.Parse()

	mainconfig.LoadEnv(nil)
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	messages := samples
	if flag.NArg() > 0 {
		messages = []string{strings.Join(flag.Args(), " ")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var reasoner *bot.Reasoner
	if *useModel {
		var awsCfg aws.Config
		if cfg.LLMProvider == "bedrock" || cfg.LLMFallbackProvider == "bedrock" {
			loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "aws config: %v\n", err)
				os.Exit(1)
			}
			awsCfg = loaded
		}
		r, err := bootstrap.BuildReasoner(ctx, cfg, awsCfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reasoner: %v\n", err)
			os.Exit(1)
		}
		if r == nil {
			fmt.Println("no LLM provider configured; keyword classifiers only")
		}
		reasoner = r
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Classifier probe (provider=%s)\n", cfg.LLMProvider)
	fmt.Println(strings.Repeat("=", 60))

	for _, text := range messages {
		intent := bot.Classify(text, "")
		meta := bot.DetectMetaIntent(text, "")
		frustration := bot.ScoreFrustration(text)

		fmt.Printf("\n> %s\n", text)
		fmt.Printf("    keyword:     %s query=%q delta=%d\n", intent.Kind, intent.Query, intent.ScoreDelta)
		fmt.Printf("    meta:        %s\n", meta)
		if frustration.Delta > 0 {
			fmt.Printf("    frustration: +%.2f (%s)\n", frustration.Delta, frustration.Tag)
		}
		if hints := bot.ExtractProfileHints(text); hints != (conversation.LongMemory{}) {
			fmt.Printf("    profile:     %+v\n", hints)
		}

		if reasoner == nil {
			continue
		}
		start := time.Now()
		decision := reasoner.Decide(ctx, bot.ReasoningInput{Text: text})
		elapsed := time.Since(start).Round(time.Millisecond)
		if !decision.OK {
			fmt.Printf("    llm:         unusable answer (%v)\n", elapsed)
			continue
		}
		fmt.Printf("    llm:         %s query=%q max=%s cuotas=%t conf=%.2f (%v)\n",
			decision.Kind, decision.Query, bot.FormatARS(decision.MaxPriceARS),
			decision.WantsInstallments, decision.Confidence, elapsed)
	}
}
