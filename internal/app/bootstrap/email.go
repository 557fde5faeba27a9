package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/notify"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// BuildEmailSender selects the e-mail provider for seller alerts. An
// unconfigured provider degrades to the logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		from := notify.Address{Name: cfg.SendGridFromName, Email: cfg.SendGridFromEmail}
		if s := notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger); s != nil {
			return s, "sendgrid"
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty; using stub e-mail sender")
	case "ses":
		if cfg.SESFromEmail != "" {
			from := notify.Address{Name: cfg.SendGridFromName, Email: cfg.SESFromEmail}
			return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), from, cfg.SESConfigurationSet, logger), "ses"
		}
		logger.Warn("ses selected but SES_FROM_EMAIL is empty; using stub e-mail sender")
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildSellerAlerter returns nil when seller alerts are disabled.
func BuildSellerAlerter(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *notify.SellerAlerter {
	if cfg == nil || !cfg.SellerAlertsEnabled {
		return nil
	}
	sender, provider := BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("seller alerts enabled", "provider", provider)
	return notify.NewSellerAlerter(sender, cfg.PublicBaseURL, cfg.Engine.BusinessName, logger)
}
