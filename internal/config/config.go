package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port                   string
	Env                    string
	PublicBaseURL          string
	LogLevel               string
	CORSAllowedOrigins     []string
	AdminJWTSecret         string
	WebhookRateLimitPerMin int

	DatabaseURL     string
	UseMemoryQueue  bool
	IngestQueueURL  string
	IngestQueueFIFO bool
	WorkerCount     int

	// WhatsApp Cloud API
	MetaWAToken          string
	MetaPhoneNumberID    string
	MetaVerifyToken      string
	MetaAppSecret        string
	WebhookSignatureMode string
	MetaGraphBase        string

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	EnableJobs     bool
	RealtimeBroker string
	NATSURL        string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CatalogPath            string
	CatalogS3Bucket        string
	CatalogS3Key           string
	CatalogRefreshInterval time.Duration

	// LLM reasoning collaborator
	LLMProvider         string
	LLMFallbackProvider string
	OpenAIAPIKey        string
	OpenAIModel         string
	GeminiAPIKey        string
	GeminiModel         string
	BedrockModelID      string
	LLMTimeout          time.Duration

	Engine EngineConfig

	// Seller alert e-mail
	EmailProvider       string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESFromEmail        string
	SESConfigurationSet string
	SellerAlertsEnabled bool
}

// EngineConfig carries the thresholds and timers of the conversation engine
// and the periodic reconciler.
type EngineConfig struct {
	BusinessName           string
	HumanInactivity        time.Duration
	UnclaimedHotLead       time.Duration
	JobTickInterval        time.Duration
	HandoffAckTTL          time.Duration
	ResumePromptAfterHuman time.Duration
	ResumePromptCooldown   time.Duration
	SoftCloseCooldown      time.Duration
	EscalationScore        int
	FrustrationEscalation  float64
	ClarifyEscalateLoops   int
	HotLostReminderDelay   time.Duration
	AfterHoursFollowup     time.Duration
}

// DefaultEngineConfig returns the engine thresholds used when no environment
// overrides are present.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BusinessName:           "Sector 7",
		HumanInactivity:        45 * time.Minute,
		UnclaimedHotLead:       60 * time.Minute,
		JobTickInterval:        60 * time.Second,
		HandoffAckTTL:          time.Hour,
		ResumePromptAfterHuman: 15 * time.Minute,
		ResumePromptCooldown:   30 * time.Minute,
		SoftCloseCooldown:      8 * time.Minute,
		EscalationScore:        7,
		FrustrationEscalation:  4,
		ClarifyEscalateLoops:   3,
		HotLostReminderDelay:   2 * time.Hour,
		AfterHoursFollowup:     time.Hour,
	}
}

// Load reads configuration from environment variables
func Load() *Config {
	queueURL := getEnv("INGEST_QUEUE_URL", "")
	openAIKey := getEnv("OPENAI_API_KEY", "")
	defaultProvider := "none"
	if openAIKey != "" {
		defaultProvider = "openai"
	}
	defaults := DefaultEngineConfig()

	return &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		PublicBaseURL:          getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		AdminJWTSecret:         getEnv("ADMIN_JWT_SECRET", ""),
		WebhookRateLimitPerMin: getEnvAsInt("WEBHOOK_RATE_LIMIT_PER_MIN", 600),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", queueURL == ""),
		IngestQueueURL:  queueURL,
		IngestQueueFIFO: getEnvAsBool("INGEST_QUEUE_FIFO", strings.HasSuffix(queueURL, ".fifo")),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),

		MetaWAToken:          getEnv("META_WA_TOKEN", ""),
		MetaPhoneNumberID:    getEnv("META_PHONE_NUMBER_ID", ""),
		MetaVerifyToken:      getEnv("META_VERIFY_TOKEN", ""),
		MetaAppSecret:        getEnv("META_APP_SECRET", ""),
		WebhookSignatureMode: strings.ToLower(strings.TrimSpace(getEnv("WEBHOOK_SIGNATURE_MODE", "required"))),
		MetaGraphBase:        getEnv("META_GRAPH_BASE", "https://graph.facebook.com/v20.0"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		EnableJobs:     getEnvAsBool("ENABLE_JOBS", true),
		RealtimeBroker: strings.ToLower(strings.TrimSpace(getEnv("REALTIME_BROKER", "redis"))),
		NATSURL:        getEnv("NATS_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CatalogPath:            getEnv("CATALOG_PATH", "data/catalog.json"),
		CatalogS3Bucket:        getEnv("CATALOG_S3_BUCKET", ""),
		CatalogS3Key:           getEnv("CATALOG_S3_KEY", "catalog.json"),
		CatalogRefreshInterval: getEnvAsDuration("CATALOG_REFRESH_INTERVAL", 10*time.Minute),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", defaultProvider))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		OpenAIAPIKey:        openAIKey,
		OpenAIModel:         getEnv("OPENAI_MODEL_REASONING", "gpt-4.1"),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 8*time.Second),

		Engine: EngineConfig{
			BusinessName:           getEnv("BUSINESS_NAME", defaults.BusinessName),
			HumanInactivity:        time.Duration(getEnvAsInt("HUMAN_INACTIVITY_MINUTES", 45)) * time.Minute,
			UnclaimedHotLead:       time.Duration(getEnvAsInt("UNCLAIMED_HOT_LEAD_MINUTES", 60)) * time.Minute,
			JobTickInterval:        getEnvAsDuration("JOB_TICK_INTERVAL", defaults.JobTickInterval),
			HandoffAckTTL:          getEnvAsDuration("HANDOFF_ACK_TTL", defaults.HandoffAckTTL),
			ResumePromptAfterHuman: getEnvAsDuration("RESUME_PROMPT_AFTER_HUMAN", defaults.ResumePromptAfterHuman),
			ResumePromptCooldown:   getEnvAsDuration("RESUME_PROMPT_COOLDOWN", defaults.ResumePromptCooldown),
			SoftCloseCooldown:      getEnvAsDuration("SOFT_CLOSE_COOLDOWN", defaults.SoftCloseCooldown),
			EscalationScore:        getEnvAsInt("ESCALATION_SCORE", defaults.EscalationScore),
			FrustrationEscalation:  getEnvAsFloat("FRUSTRATION_ESCALATION", defaults.FrustrationEscalation),
			ClarifyEscalateLoops:   getEnvAsInt("CLARIFY_ESCALATE_LOOPS", defaults.ClarifyEscalateLoops),
			HotLostReminderDelay:   getEnvAsDuration("HOT_LOST_REMINDER_DELAY", defaults.HotLostReminderDelay),
			AfterHoursFollowup:     getEnvAsDuration("AFTER_HOURS_FOLLOWUP_DELAY", defaults.AfterHoursFollowup),
		},

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Sector 7"),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
		SellerAlertsEnabled: getEnvAsBool("SELLER_ALERTS_ENABLED", false),
	}
}

// SignatureRequired reports whether inbound webhooks without a valid
// signature must be rejected.
func (c *Config) SignatureRequired() bool {
	return c.WebhookSignatureMode != "optional"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
